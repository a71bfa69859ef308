package provider

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Redis   string `json:"redis"` // ok, down or disabled
}

type BackendStatus struct {
	BaseURL string `json:"baseUrl"`
	Score   int64  `json:"score"`
}

type BackendsResponse struct {
	Backends []BackendStatus `json:"backends"`
}
