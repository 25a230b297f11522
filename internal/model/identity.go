package model

// Identity is the authenticated user as seen by the claim workflow.
// It is resolved from the session cookie set after social login.
type Identity struct {
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

// DisplayName returns the best human label for the identity.
func (i *Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	if i.Name != "" {
		return i.Name
	}
	return "Unknown"
}
