package models

// These structs define the JSON payloads for HTTP requests and responses
// between the Cloud Workflow and the worker Cloud Functions.

// EnhanceMarkdownRequest is the input for the image-enhancer function.
type EnhanceMarkdownRequest struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	SourceFile  string `json:"sourceFile"`
	ExecutionID string `json:"executionId"`
}

// EnhanceMarkdownResponse is the output of the image-enhancer function.
type EnhanceMarkdownResponse struct {
	Status      string       `json:"status"`
	MarkdownURI string       `json:"markdownUri"`
	Stats       EnhanceStats `json:"stats"`
}

// EnhanceStats summarises one pass of the image enhancement pipeline.
type EnhanceStats struct {
	Sections           int `json:"sections"`
	SectionsWithImages int `json:"sectionsWithImages"`
	MarkersRewritten   int `json:"markersRewritten"`
	MarkersRemoved     int `json:"markersRemoved"`
	MarkersExternal    int `json:"markersExternal"`
	DescribableImages  int `json:"describableImages"`
	FetchChunks        int `json:"fetchChunks"`
	ImagesNormalized   int `json:"imagesNormalized"`
	SectionsDescribed  int `json:"sectionsDescribed"`
	DescriptionsAdded  int `json:"descriptionsAdded"`
}

// RecordStatusRequest is the input for the status-recorder function.
type RecordStatusRequest struct {
	FileName     string `json:"fileName"`
	Status       Status `json:"status"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	ExecutionID  string `json:"executionId"`
}

// RecordStatusResponse is the output of the status-recorder function.
type RecordStatusResponse struct {
	Status string `json:"status"`
}

// ConversionWorkflowArgs is the argument passed to the conversion workflow
// started for each accepted PDF upload.
type ConversionWorkflowArgs struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	OutputPrefix string `json:"outputPrefix"`
	PageCount    int    `json:"pageCount"`
}

// VisionImage is one normalized image sent to the vision model, labelled with
// the key the model must use for it in its response.
type VisionImage struct {
	Key      string
	MIMEType string
	Data     []byte
}

// VisionRequest is a single describe call for one document section.
type VisionRequest struct {
	Context string
	Images  []VisionImage
}
