package bindings

import (
	"context"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// Payment fills the card widget inside the payment frame. It is the fallback
// stage and matches any page.
type Payment struct {
	// AutoSubmit clicks the pay button after filling.
	AutoSubmit bool
}

func (Payment) Stage() StageKind { return StagePayment }

func (Payment) Detect(PageState) bool { return true }

type cardData struct {
	Number string `json:"number"`
	Holder string `json:"holder"`
	Month  string `json:"month"`
	Year   string `json:"year"`
	CVV    string `json:"cvv"`
}

// Fill reports whether the pay button exists once the card fields are set.
func (p Payment) Fill(ctx context.Context, r bridge.Runner, target bridge.Target, rec recordstore.Record) bool {
	card := cardData{
		Number: rec.CardNumber.String(),
		Holder: rec.CardHolder(),
		Month:  rec.CardMonth.String(),
		Year:   rec.CardYear.String(),
		CVV:    rec.CVV.String(),
	}
	return bridge.Truthy(r.Run(ctx, target, fillPaymentCapability, card, p.AutoSubmit))
}
