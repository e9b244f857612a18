package bindings

import (
	_ "embed"

	"github.com/xkilldash9x/formpilot/internal/bridge"
)

// --- Embedded JavaScript Capabilities ---

//go:embed js/probe.js
var probeScript string

//go:embed js/fill_login.js
var fillLoginScript string

//go:embed js/fill_signup.js
var fillSignupScript string

//go:embed js/ticket_items.js
var ticketItemsScript string

//go:embed js/ticket_expand.js
var ticketExpandScript string

//go:embed js/ticket_select.js
var ticketSelectScript string

//go:embed js/fill_payment.js
var fillPaymentScript string

//go:embed js/header_name.js
var headerNameScript string

//go:embed js/assist_probe.js
var assistProbeScript string

//go:embed js/assist_click.js
var assistClickScript string

//go:embed js/fill_password.js
var fillPasswordScript string

//go:embed js/fill_profile.js
var fillProfileScript string

var (
	probeCapability        = bridge.Capability{Name: "probe", Source: probeScript}
	fillLoginCapability    = bridge.Capability{Name: "fill_login", Source: fillLoginScript}
	fillSignupCapability   = bridge.Capability{Name: "fill_signup", Source: fillSignupScript}
	ticketItemsCapability  = bridge.Capability{Name: "ticket_items", Source: ticketItemsScript}
	ticketExpandCapability = bridge.Capability{Name: "ticket_expand", Source: ticketExpandScript}
	ticketSelectCapability = bridge.Capability{Name: "ticket_select", Source: ticketSelectScript}
	fillPaymentCapability  = bridge.Capability{Name: "fill_payment", Source: fillPaymentScript}
	assistProbeCapability  = bridge.Capability{Name: "assist_probe", Source: assistProbeScript}
	assistClickCapability  = bridge.Capability{Name: "assist_click", Source: assistClickScript}
	fillPasswordCapability = bridge.Capability{Name: "fill_password", Source: fillPasswordScript}
	fillProfileCapability  = bridge.Capability{Name: "fill_profile", Source: fillProfileScript}

	// HeaderName returns the logged-in user's display name from the site header, or null.
	HeaderName = bridge.Capability{Name: "header_name", Source: headerNameScript}
)
