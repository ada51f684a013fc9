package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
)

// --- Image Describer Model Prompts ---
const ImageDescriberSystemPrompt = "You analyse the images of technical documents for a knowledge base. For each image, extract the information that makes the document easier to find through semantic search: technical specifications, data, diagrams and domain terminology. Ignore decorative content."
const ImageDescriberUserPrompt = `The text above is a section of a technical document. Each image in it was replaced by a placeholder such as [image1]; the images follow, each preceded by its key.

For every image, describe what it contributes in the context of the section:

1.  **Include**: text and labels in diagrams, trends and patterns in charts, key numbers, symbols and notation specific to the domain, and the visual concepts the surrounding text relies on.
2.  **Leave out**: purely decorative elements, generic schematic parts, and information the text already states.
3.  **Language**: write each description in the language of the section.

Return a single JSON object whose keys are the image keys and whose values are the descriptions. Use an empty string for an image that carries no useful information. Do not include any text before or after the JSON object.`

// VertexClient holds the pre-configured generative model settings for our app.
type VertexClient struct {
	visionModelName string
	baseClient      *genai.Client
}

// NewVertexClient creates a new client for the given vision model.
func NewVertexClient(ctx context.Context, projectID, region, visionModel string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if visionModel == "" {
		visionModel = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		visionModelName: visionModel,
		baseClient:      baseClient,
	}, nil
}

// imageDescriberModel configures the model for one request. The response schema
// lists the keys of the images being sent, so it differs between calls.
func (c *VertexClient) imageDescriberModel(images []models.VisionImage) *genai.GenerativeModel {
	model := c.baseClient.GenerativeModel(c.visionModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ImageDescriberSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   descriptionSchema(images),
		Temperature:      genai.Ptr[float32](0.1),
		TopP:             genai.Ptr[float32](0.1),
		MaxOutputTokens:  genai.Ptr[int32](2000),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

func descriptionSchema(images []models.VisionImage) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(images)),
	}
	for _, img := range images {
		schema.Properties[img.Key] = &genai.Schema{Type: genai.TypeString}
		schema.Required = append(schema.Required, img.Key)
	}
	return schema
}

// DescribeImages sends the section context and its images in one request and
// returns the raw JSON text of the response.
func (c *VertexClient) DescribeImages(ctx context.Context, req models.VisionRequest) (string, error) {
	if len(req.Images) == 0 {
		return "{}", nil
	}

	parts := make([]genai.Part, 0, 2+2*len(req.Images))
	parts = append(parts,
		genai.Text("Section content:\n"+req.Context),
		genai.Text(ImageDescriberUserPrompt),
	)
	for _, img := range req.Images {
		parts = append(parts,
			genai.Text(img.Key),
			genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		)
	}

	resp, err := c.imageDescriberModel(req.Images).GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate image descriptions from gemini: %w", err)
	}
	return extractText(resp), nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var contentBuilder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			contentBuilder.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(contentBuilder.String())
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
