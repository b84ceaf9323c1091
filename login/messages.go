package login

import "github.com/jrsteele09/wastekonnect-admin/identity"

const (
	MessageEmailRequired    = "Email is required"
	MessagePasswordRequired = "Password is required"

	MessageSignedIn = "Logged in successfully!"

	MessageSessionUnconfirmed = "Login failed: the session could not be confirmed. Please try again."
	MessageHandshakeInvalid   = "Login failed: the sign-in attempt expired or is invalid. Please try again."

	messageUnknown = "Login failed. Please check your credentials."
)

var credentialMessages = map[identity.ErrorCode]string{
	identity.CodeUserNotFound:    "No user found with this email.",
	identity.CodeWrongPassword:   "Incorrect password. Please try again.",
	identity.CodeInvalidEmail:    "Invalid email format. Please check your email.",
	identity.CodeTooManyRequests: "Too many attempts. Please try again later.",
}

// MessageFor maps a credential sign-in error code to the message shown to the user.
func MessageFor(code identity.ErrorCode) string {
	if msg, ok := credentialMessages[code]; ok {
		return msg
	}
	return messageUnknown
}

// ProviderFailureMessage is the message shown when a third-party sign-in fails.
func ProviderFailureMessage(d identity.Descriptor, message string) string {
	return providerLabel(d) + " login failed: " + message
}

// ProviderSuccessMessage is the toast shown after a third-party sign-in.
func ProviderSuccessMessage(d identity.Descriptor) string {
	return "Logged in with " + providerLabel(d) + " successfully!"
}

func providerLabel(d identity.Descriptor) string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}
