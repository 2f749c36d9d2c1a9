//nolint:revive // types is a standard Go package name pattern
package types

import (
	"github.com/go-playground/validator/v10"
)

// UpdatePreferenceRequest replaces a user's alert preference. Secret fields
// are pointers: nil keeps the stored value, an empty string clears it.
type UpdatePreferenceRequest struct {
	Enabled            bool      `json:"enabled"`
	AutoScan           bool      `json:"auto_scan"`
	MinMatchPercentage int       `json:"min_match_percentage" validate:"min=0,max=100"`
	Categories         []string  `json:"categories,omitempty" validate:"max=50,dive,required,max=100"`
	TargetSkills       []string  `json:"target_skills,omitempty" validate:"max=100,dive,required,max=100"`
	Channels           []Channel `json:"channels" validate:"max=4,dive,oneof=IN_APP DESKTOP SMS CHAT"`

	PushSubscription string  `json:"push_subscription,omitempty" validate:"omitempty,json,max=4096"`
	PhoneCountryCode string  `json:"phone_country_code,omitempty" validate:"omitempty,max=5"`
	PhoneNumber      *string `json:"phone_number,omitempty" validate:"omitempty,max=32"`
	ChatInstanceID   string  `json:"chat_instance_id,omitempty" validate:"omitempty,alphanum,max=64"`
	ChatToken        *string `json:"chat_token,omitempty" validate:"omitempty,max=256"`
	ChatPhone        *string `json:"chat_phone,omitempty" validate:"omitempty,max=32"`
}

// Validate validates the UpdatePreferenceRequest using the validator.
func (r *UpdatePreferenceRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// PreferenceView is an alert preference as shown to its owner, with phone
// numbers masked and the chat token reduced to a presence flag.
type PreferenceView struct {
	AlertPreference
	PhoneNumberMasked string `json:"phone_number_masked,omitempty"`
	ChatPhoneMasked   string `json:"chat_phone_masked,omitempty"`
	ChatTokenSet      bool   `json:"chat_token_set"`
}

// PreferenceSecrets holds decrypted credentials for display on demand
type PreferenceSecrets struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	ChatToken   string `json:"chat_token,omitempty"`
	ChatPhone   string `json:"chat_phone,omitempty"`
}
