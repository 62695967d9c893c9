package journey

// CallbackType names the prompt/answer shape of a [Callback].
type CallbackType string

const (
	TypeString        CallbackType = "string"
	TypePassword      CallbackType = "password"
	TypeBoolean       CallbackType = "boolean"
	TypeNumber        CallbackType = "number"
	TypeConfirmation  CallbackType = "confirmation"
	TypeRedirect      CallbackType = "redirect"
	TypeTextOutput    CallbackType = "text_output"
	TypeHidden        CallbackType = "hidden"
	TypeDeviceBinding CallbackType = "device_binding"
	TypeDeviceSigning CallbackType = "device_signing"
)

// Role disambiguates callbacks of the same type within one round, for example the old,
// new and confirm password prompts of a password change.
type Role string

const (
	RoleNone            Role = ""
	RoleOldPassword     Role = "old"
	RoleNewPassword     Role = "new"
	RoleConfirmPassword Role = "confirm"
)

// MessageType classifies a text-output callback.
type MessageType string

const (
	MessageInfo    MessageType = "info"
	MessageWarning MessageType = "warning"
	MessageError   MessageType = "error"
)

// DevicePayload is carried by device binding and signing callbacks. The first block is
// sent to the client; the second block is filled in by it.
type DevicePayload struct {
	Challenge          string `json:"challenge,omitempty"`
	UserID             string `json:"userId,omitempty"`
	Username           string `json:"username,omitempty"`
	AuthenticationType string `json:"authenticationType,omitempty"`
	Title              string `json:"title,omitempty"`
	Subtitle           string `json:"subtitle,omitempty"`
	Description        string `json:"description,omitempty"`
	Timeout            int    `json:"timeout,omitempty"`

	JWS         string `json:"jws,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	ClientError string `json:"clientError,omitempty"`
}

// Callback is one typed prompt/answer pair. The server emits it with Value unset and the
// client echoes it back with Value populated.
type Callback struct {
	Type           CallbackType   `json:"type"`
	Name           string         `json:"name,omitempty"`
	Role           Role           `json:"role,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	Value          Value          `json:"value,omitzero"`
	Required       bool           `json:"required,omitempty"`
	ValidateOnly   bool           `json:"validateOnly,omitempty"`
	FailedPolicies []string       `json:"failedPolicies,omitempty"`
	Options        []string       `json:"options,omitempty"`
	DefaultOption  int            `json:"defaultOption,omitempty"`
	URI            string         `json:"uri,omitempty"`
	Message        string         `json:"message,omitempty"`
	MessageType    MessageType    `json:"messageType,omitempty"`
	Device         *DevicePayload `json:"device,omitempty"`
}

func NewStringCallback(name, prompt string) Callback {
	return Callback{Type: TypeString, Name: name, Prompt: prompt, Value: EmptyOf(KindString)}
}

func NewPasswordCallback(name, prompt string) Callback {
	return Callback{Type: TypePassword, Name: name, Prompt: prompt, Value: EmptyOf(KindString)}
}

func NewBooleanCallback(name, prompt string) Callback {
	return Callback{Type: TypeBoolean, Name: name, Prompt: prompt, Value: EmptyOf(KindBoolean)}
}

func NewNumberCallback(name, prompt string) Callback {
	return Callback{Type: TypeNumber, Name: name, Prompt: prompt, Value: EmptyOf(KindNumber)}
}

// NewConfirmationCallback offers options; the answer is the selected index as a number.
func NewConfirmationCallback(name, prompt string, options []string, defaultOption int) Callback {
	opts := make([]string, len(options))
	copy(opts, options)
	return Callback{
		Type:          TypeConfirmation,
		Name:          name,
		Prompt:        prompt,
		Options:       opts,
		DefaultOption: defaultOption,
		Value:         EmptyOf(KindNumber),
	}
}

func NewRedirectCallback(uri string) Callback {
	return Callback{Type: TypeRedirect, URI: uri}
}

func NewTextOutputCallback(messageType MessageType, message string) Callback {
	return Callback{Type: TypeTextOutput, MessageType: messageType, Message: message}
}

// NewHiddenCallback carries a value the client must echo untouched.
func NewHiddenCallback(name, value string) Callback {
	return Callback{Type: TypeHidden, Name: name, Value: StringValue(value)}
}

func NewDeviceBindingCallback(payload DevicePayload) Callback {
	p := payload
	return Callback{Type: TypeDeviceBinding, Device: &p}
}

func NewDeviceSigningCallback(payload DevicePayload) Callback {
	p := payload
	return Callback{Type: TypeDeviceSigning, Device: &p}
}

// WithRole returns a copy of c tagged with role.
func (c Callback) WithRole(role Role) Callback {
	c.Role = role
	return c
}

// Require returns a copy of c marked as required.
func (c Callback) Require() Callback {
	c.Required = true
	return c
}

// WithFailedPolicies returns a copy of c carrying policy failure detail.
func (c Callback) WithFailedPolicies(policies ...string) Callback {
	if len(policies) == 0 {
		c.FailedPolicies = nil
		return c
	}
	c.FailedPolicies = append([]string(nil), policies...)
	return c
}

// Answered reports whether the client populated the callback.
func (c Callback) Answered() bool {
	if c.Device != nil && (c.Device.JWS != "" || c.Device.ClientError != "") {
		return true
	}
	return !c.Value.IsZero()
}

func (c Callback) clone() Callback {
	out := c
	if c.FailedPolicies != nil {
		out.FailedPolicies = append([]string(nil), c.FailedPolicies...)
	}
	if c.Options != nil {
		out.Options = append([]string(nil), c.Options...)
	}
	if c.Device != nil {
		d := *c.Device
		out.Device = &d
	}
	return out
}

func cloneCallbacks(in []Callback) []Callback {
	if in == nil {
		return nil
	}
	out := make([]Callback, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
