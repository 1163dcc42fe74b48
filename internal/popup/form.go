package popup

import (
	"errors"
	"strings"

	"waitlist/api/internal/wallet"
)

// Form is what the caller typed into the dialog.
type Form struct {
	Name          string
	WalletAddress string
}

// Validate checks the form and sets the field errors. It reports whether
// the form may be submitted.
func (c *Controller) Validate(form Form, authenticated bool) bool {
	errs := map[string]string{}
	if strings.TrimSpace(form.Name) == "" {
		errs[FieldName] = MsgNameRequired
	}
	if res := wallet.Validate(form.WalletAddress); !res.IsValid {
		errs[FieldWallet] = res.Error
	}
	if len(errs) == 0 && !authenticated {
		errs[FieldName] = MsgSignIn
	}
	if len(errs) == 0 {
		c.state.FieldErrors = nil
		return true
	}
	c.state.FieldErrors = errs
	return false
}

// Precheck runs the checks made before a claim is sent. joinedWallet is the
// caller's existing claim wallet, empty when they have none; walletTaken is
// the check-wallet answer for the form's address. It reports whether the
// claim should be sent.
func (c *Controller) Precheck(form Form, joinedWallet string, walletTaken bool) bool {
	var field, msg string
	switch {
	case joinedWallet != "" && joinedWallet != wallet.Validate(form.WalletAddress).NormalizedAddress:
		field, msg = FieldWallet, MsgWalletMismatch
	case joinedWallet != "":
		field, msg = FieldName, MsgIdentityConflict
	case walletTaken:
		field, msg = FieldWallet, MsgWalletConflict
	default:
		return true
	}
	c.state.FieldErrors = map[string]string{field: msg}
	return false
}

// BeginSubmit marks a submission in flight.
func (c *Controller) BeginSubmit() error {
	if c.state.Submitting {
		return ErrSubmitting
	}
	c.state.Submitting = true
	c.state.FieldErrors = nil
	return nil
}

// ClaimError is a rejected claim as the Claim API reports it.
type ClaimError struct {
	Code    string
	Message string
}

func (e *ClaimError) Error() string { return e.Message }

// FinishSubmit ends the submission. On success the dialog closes and the
// caller counts as joined; on failure the error lands on the field it
// concerns.
func (c *Controller) FinishSubmit(err error) {
	c.state.Submitting = false
	if err == nil {
		c.Close()
		c.state.AlreadyJoined = true
		return
	}
	field, msg := fieldFor(err)
	c.state.FieldErrors = map[string]string{field: msg}
}

func fieldFor(err error) (string, string) {
	code, msg := "", err.Error()
	var ce *ClaimError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	switch {
	case code == "ALREADY_JOINED":
		return FieldName, MsgIdentityConflict
	case code == "WALLET_MISMATCH":
		return FieldWallet, MsgWalletMismatch
	case code == "WALLET_TAKEN":
		return FieldWallet, MsgWalletConflict
	case code != "":
		// other API codes carry their own message
	case strings.Contains(msg, "different wallet"):
		return FieldWallet, MsgWalletMismatch
	case strings.Contains(msg, "already joined") || strings.Contains(msg, "Twitter account"):
		return FieldName, MsgIdentityConflict
	case strings.Contains(msg, "wallet address") || strings.Contains(msg, "already been used"):
		return FieldWallet, MsgWalletConflict
	}
	if msg == "" {
		msg = MsgSubmitFailed
	}
	return FieldName, msg
}
