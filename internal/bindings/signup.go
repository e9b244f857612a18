package bindings

import (
	"context"
	"strings"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// signupLanguage is the preferred language submitted with every registration.
const signupLanguage = "en-GB"

// Signup fills the registration form. When the page is still loading the
// capability registers a single load listener and fills from there.
type Signup struct{}

func (Signup) Stage() StageKind { return StageSignup }

func (Signup) Detect(s PageState) bool { return s.HasSignupName }

// SplitName splits a full name on whitespace. The first token is the given
// name and the remaining tokens, joined by single spaces, are the family name.
func SplitName(full string) (given, family string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

type signupData struct {
	Given    string `json:"given"`
	Family   string `json:"family"`
	Full     string `json:"full"`
	Email    string `json:"email,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Day      string `json:"day,omitempty"`
	Month    string `json:"month,omitempty"`
	Year     string `json:"year,omitempty"`
	Country  string `json:"country,omitempty"`
	Language string `json:"language"`
}

func newSignupData(rec recordstore.Record) signupData {
	given, family := SplitName(rec.Name)
	return signupData{
		Given:    given,
		Family:   family,
		Full:     strings.TrimSpace(rec.Name),
		Email:    rec.Email,
		Gender:   rec.Gender.String(),
		Day:      rec.Day.String(),
		Month:    rec.Month.String(),
		Year:     rec.Year.String(),
		Country:  rec.Country,
		Language: signupLanguage,
	}
}

type signupResult struct {
	Deferred bool `json:"deferred"`
	Filled   bool `json:"filled"`
}

func (Signup) Fill(ctx context.Context, r bridge.Runner, target bridge.Target, rec recordstore.Record) bool {
	res, ok := bridge.Decode[signupResult](r.Run(ctx, target, fillSignupCapability, newSignupData(rec)))
	return ok && res.Filled
}
