package bindings

import (
	"context"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// Login fills the email and password form.
type Login struct{}

func (Login) Stage() StageKind { return StageLogin }

func (Login) Detect(s PageState) bool {
	return s.HasLoginEmail && s.HasLoginPassword
}

type loginData struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (Login) Fill(ctx context.Context, r bridge.Runner, target bridge.Target, rec recordstore.Record) bool {
	return bridge.Truthy(r.Run(ctx, target, fillLoginCapability, loginData{Email: rec.Email, Password: rec.Password}))
}
