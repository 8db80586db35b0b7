package domain

// Session is the resolved identity of the signed-in user. It is produced by
// an external identity provider and treated as read-only by the pipeline.
type Session struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`

	// Credential is the bearer token the session was begun with. When set,
	// every request must present it.
	Credential string `json:"-"`
}

// Valid reports whether the session carries an owner identifier.
func (s Session) Valid() bool {
	return s.ID != ""
}
