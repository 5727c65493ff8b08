package config

// HTTPConfig controls the driver facing HTTP API.
type HTTPConfig struct {
	// Addr enables the API when set, e.g. ":8080".
	Addr string `json:"addr"`
	// Token, when set, is required as a bearer token on every /api request.
	Token string `json:"token"`
}
