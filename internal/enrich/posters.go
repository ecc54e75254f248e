package enrich

import (
	"regexp"
	"strings"
	"unicode"
)

const koreanFallbackPoster = "/korean-movie-poster.jpg"

type posterRule struct {
	pattern *regexp.Regexp
	path    string
}

// Bundled artwork used when TMDB has nothing for a title.
var localPosters = []posterRule{
	{regexp.MustCompile(`stranger\s*things|기묘한`), "/stranger-things-inspired-poster.png"},
	{regexp.MustCompile(`the\s*crown|크라운`), "/the-crown-poster.jpg"},
	{regexp.MustCompile(`tyrant.*chef|폭군의\s*[셰세]프`), "/chef-tv-show-poster.jpg"},
	{regexp.MustCompile(`chef|셰프|세프`), "/chef-tv-show-poster.jpg"},
	{regexp.MustCompile(`ballerina|발레리나|chicken\s*nugget|치킨\s*너겟`), "/asian-drama-poster.jpg"},
	{regexp.MustCompile(`squid\s*game|오징어\s*게임|the\s*challenge|챌린지|all\s*of\s*us\s*are\s*dead`), "/generic-survival-game-poster.png"},
	{regexp.MustCompile(`avengers|어벤져스`), "/generic-superhero-team-poster.png"},
	{regexp.MustCompile(`red\s*notice|레드\s*노티스`), "/red-notice-poster.jpg"},
	{regexp.MustCompile(`concrete\s*utopia|콘크리트\s*유토피아`), "/concrete-utopia-2.jpg"},
	{regexp.MustCompile(`our\s*ballad|우리들의\s*발라드|drama|드라마|ballad|발라드`), "/ballad-tv-show-poster.jpg"},
	{regexp.MustCompile(`project|프로젝트`), "/project-movie-poster.jpg"},
	{regexp.MustCompile(`hellbound|지옥|emergency\s*declaration|비상\s*선언|peninsula|반도|mogadishu|모가디슈|exit\s*2|엑시트\s*2`), koreanFallbackPoster},
}

// LocalPoster returns a bundled poster path for a title, or "" when none fits.
// Titles with Hangul fall back to a generic Korean poster.
func LocalPoster(title string) string {
	lower := strings.ToLower(title)
	for _, rule := range localPosters {
		if rule.pattern.MatchString(lower) {
			return rule.path
		}
	}
	for _, r := range title {
		if unicode.Is(unicode.Hangul, r) {
			return koreanFallbackPoster
		}
	}
	return ""
}
