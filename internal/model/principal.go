package model

// Principal is the authenticated caller, as returned by the credential resolver.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
