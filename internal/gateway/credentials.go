package gateway

import (
	"regexp"
	"strings"
)

// Partial-credential carry-forward: free-form text is scanned for
// account-number-like and sort-code-like strings so a successor agent can
// prompt only for what's still missing.
var (
	accountPattern  = regexp.MustCompile(`\b\d{8}\b`)
	sortCodePattern = regexp.MustCompile(`\b\d{2}-\d{2}-\d{2}\b|\b\d{6}\b`)
)

// scanCredentials extracts an account number and/or sort code from text.
// Either result may be empty. Sort codes are normalised to bare digits.
func scanCredentials(text string) (account, sortCode string) {
	if text == "" {
		return "", ""
	}
	account = accountPattern.FindString(text)
	if sc := sortCodePattern.FindString(text); sc != "" {
		sortCode = strings.ReplaceAll(sc, "-", "")
	}
	return account, sortCode
}
