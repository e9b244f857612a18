package bindings

import (
	"context"
	"time"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// AssistState is the snapshot the page assistant acts on. ReadyState is
// document.readyState; the assistant only acts once it is "complete".
type AssistState struct {
	Session        string `json:"session"`
	ReadyState     string `json:"readyState"`
	ProfileForm    bool   `json:"profileForm"`
	ProfileEmail   string `json:"profileEmail"`
	SubmitProfile  bool   `json:"submitProfile"`
	Ballot         bool   `json:"ballot"`
	PasswordForm   bool   `json:"passwordForm"`
	ContinueButton bool   `json:"continueButton"`
}

// ClickKind names a button the assistant can press.
type ClickKind string

const (
	ClickSubmitProfile ClickKind = "submit_profile"
	ClickBallot        ClickKind = "ballot"
	ClickContinue      ClickKind = "continue"
)

// ProbeAssist snapshots the assistant features of target.
func ProbeAssist(ctx context.Context, r bridge.Runner, target bridge.Target, ballotID string) (AssistState, bool) {
	return bridge.Decode[AssistState](r.Run(ctx, target, assistProbeCapability, ballotID))
}

// Click presses the button of the given kind and reports whether it existed.
func Click(ctx context.Context, r bridge.Runner, target bridge.Target, kind ClickKind, ballotID string) bool {
	return bridge.Truthy(r.Run(ctx, target, assistClickCapability, string(kind), ballotID))
}

// FillPassword sets the password and confirmation fields and accepts the terms.
func FillPassword(ctx context.Context, r bridge.Runner, target bridge.Target, password string) bool {
	return bridge.Truthy(r.Run(ctx, target, fillPasswordCapability, password))
}

// Profile fills the fan profile and address form, ticks the age and terms
// boxes, and clicks save after SaveDelay.
type Profile struct {
	FanCountry string
	SaveDelay  time.Duration
}

type profileData struct {
	Address  string `json:"address,omitempty"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	State    string `json:"state,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Fill reports whether the profile form was present.
func (p Profile) Fill(ctx context.Context, r bridge.Runner, target bridge.Target, rec recordstore.Record) bool {
	data := profileData{
		Address:  rec.Address,
		City:     rec.City,
		Postcode: rec.Postcode.String(),
		State:    rec.State,
		Phone:    rec.PhoneNumber.String(),
	}
	return bridge.Truthy(r.Run(ctx, target, fillProfileCapability, data, p.FanCountry, p.SaveDelay.Milliseconds()))
}
