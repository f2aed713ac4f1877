package models

// DescriptionRequest is the body for the AgentWrite tool endpoint.
type DescriptionRequest struct {
	ProductName     string `json:"productName" binding:"required,max=100"`
	ProductFeatures string `json:"productFeatures" binding:"required,max=2000"`
	TargetAudience  string `json:"targetAudience" binding:"required,max=500"`
	Tone            string `json:"tone" binding:"required,max=100"`
}

// TranscribeRequest is the body for the PodScribe tool endpoint.
type TranscribeRequest struct {
	EpisodeURL string `json:"episodeUrl" binding:"required,url"`
}
