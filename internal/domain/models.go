package domain

import (
	"io"
	"time"
)

// UploadedImage is an image received in a single /analyze request.
type UploadedImage struct {
	Filename  string
	Extension string
	Size      int64
	Content   io.Reader
}

type AnalysisResult struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Size     int64         `json:"size"`
	Model    string        `json:"model"`
	Analysis string        `json:"analysis"`
	Duration time.Duration `json:"duration"`
	Created  time.Time     `json:"created_at"`
}

// AnalyzeResponse is the JSON body returned by POST /analyze.
type AnalyzeResponse struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}
