package envyerrors

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const summaryFormat = "%d errors found"

func init() {
	message.Set(language.AmericanEnglish, summaryFormat, plural.Selectf(1, "%d",
		"=0", "no errors",
		"=1", "1 error found",
		"other", "%[1]d errors found",
	))
}

var printer = message.NewPrinter(language.AmericanEnglish)

// Summarize renders the localized, pluralized error-bundle summary
// (§4.1 "fails at parse with a localized message", §7 error-bundle
// summaries).
func Summarize(n int) string {
	return printer.Sprintf(summaryFormat, n)
}
