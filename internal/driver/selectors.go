package driver

import (
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Markup of the Google Forms surface the driver relies on.
const (
	successText   = "Your response has been recorded"
	authHost      = "accounts.google.com"
	authMarker    = "signin"
	formsPath     = "docs.google.com/forms"
	liveFormPath  = "viewform"
	formsHost     = "docs.google.com"
	captchaMarker = "recaptcha"
)

var (
	selAddFile        = schemas.HasText(`[role="button"]`, "Add file")
	selSubmit         = schemas.HasText(`[role="button"]`, "Submit")
	selSuccess        = schemas.ExactText(successText)
	selUploadProgress = schemas.CSS(`[class*="upload"], [class*="progress"], [class*="spinner"]`)
	selCompletion     = schemas.CSS(`[class*="success"], [class*="complete"], [class*="thank"]`)
	selErrorText      = schemas.Selector{Pattern: "error|required|invalid|missing", IgnoreCase: true}
	selCaptcha        = schemas.CSS(`iframe[title*="captcha" i], iframe[src*="recaptcha" i], div.g-recaptcha`)
	selDialog         = schemas.CSS(`[role="dialog"], [role="alertdialog"]`)
)

// clearSelectors locate the "Clear form" action, most specific first.
var clearSelectors = []schemas.Selector{
	schemas.HasText(`[role="button"]`, "Clear form"),
	schemas.HasText("button", "Clear form"),
	schemas.ExactText("Clear form"),
}

// confirmSelectors locate the accept button of the clear confirmation dialog.
var confirmSelectors = []schemas.Selector{
	schemas.HasText(`[role="dialog"] [role="button"]`, "Clear form"),
	schemas.HasText(`[role="alertdialog"] [role="button"]`, "Clear form"),
	schemas.HasText(`[role="dialog"] button`, "Clear form"),
	schemas.HasText(`[role="alertdialog"] button`, "Clear form"),
	schemas.CSS(`[role="button"][aria-label="Clear form"]`),
	schemas.HasText(`[role="dialog"] [role="button"]`, "Clear"),
	schemas.HasText(`[role="alertdialog"] [role="button"]`, "Clear"),
	schemas.HasText(`[role="dialog"] button`, "Clear"),
	schemas.HasText(`[role="alertdialog"] button`, "Clear"),
	schemas.CSS(`[role="dialog"] [data-mdc-dialog-action="accept"]`),
	schemas.CSS(`[role="alertdialog"] [data-mdc-dialog-action="accept"]`),
}

// fileChipSelector matches the file name chips Google Forms renders for
// uploaded files with one of the given extensions.
func fileChipSelector(extensions []string) schemas.Selector {
	alts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.ToLower(ext), ".")
		if ext != "" {
			alts = append(alts, regexp.QuoteMeta(ext))
		}
	}
	return schemas.Selector{
		Pattern:    `.*\.(` + strings.Join(alts, "|") + `)$`,
		IgnoreCase: true,
	}
}

// overlayScript removes every element matching one of selectors.
func overlayScript(selectors []string) string {
	if len(selectors) == 0 {
		return ""
	}
	quoted, _ := json.MarshalToString(strings.Join(selectors, ", "))
	return "document.querySelectorAll(" + quoted + ").forEach((el) => el.remove());"
}

func isAuthURL(url string) bool {
	return strings.Contains(url, authHost) || strings.Contains(url, authMarker)
}

func isFormURL(url string) bool {
	return strings.Contains(url, formsPath) && strings.Contains(url, liveFormPath)
}

// leftLiveForm reports whether the page is still on Google Docs but no
// longer on the fillable view, which is where a submission lands.
func leftLiveForm(url string) bool {
	u := strings.ToLower(url)
	return strings.Contains(u, formsHost) && !strings.Contains(u, liveFormPath)
}
