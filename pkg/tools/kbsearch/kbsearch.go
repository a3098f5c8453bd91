// Package kbsearch implements the "search_knowledge_base" tool: retrieval
// augmented generation against an Amazon Bedrock knowledge base via the
// agent-runtime RetrieveAndGenerate API.
package kbsearch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agtypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/MrWong99/voxgate/pkg/tool"
)

// api is the slice of the agent-runtime client the tool uses; narrowed so
// tests can substitute a fake.
type api interface {
	RetrieveAndGenerate(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput,
		optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// Tool queries a Bedrock knowledge base. Construct with [New] or, in tests,
// [NewWithClient].
type Tool struct {
	client          api
	knowledgeBaseID string
	modelArn        string
}

var _ tool.Tool = (*Tool)(nil)

// New creates the knowledge-base tool with a client built from the ambient
// AWS configuration for region. modelArn selects the generation model used to
// compose the answer from retrieved passages.
func New(ctx context.Context, region, knowledgeBaseID, modelArn string) (*Tool, error) {
	if knowledgeBaseID == "" {
		return nil, fmt.Errorf("kbsearch: knowledge base ID must not be empty")
	}
	if modelArn == "" {
		return nil, fmt.Errorf("kbsearch: model ARN must not be empty")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kbsearch: load AWS config: %w", err)
	}
	return NewWithClient(bedrockagentruntime.NewFromConfig(cfg), knowledgeBaseID, modelArn), nil
}

// NewWithClient creates the tool over an existing agent-runtime client.
func NewWithClient(client api, knowledgeBaseID, modelArn string) *Tool {
	return &Tool{
		client:          client,
		knowledgeBaseID: knowledgeBaseID,
		modelArn:        modelArn,
	}
}

func (t *Tool) Name() string { return "search_knowledge_base" }

func (t *Tool) Description() string {
	return "Search the product knowledge base and generate an answer grounded in the retrieved documents. Use for questions about products, specifications and support topics."
}

func (t *Tool) InputSchema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Natural-language question to answer from the knowledge base.",
		},
	}, "query")
}

// Execute runs RetrieveAndGenerate and returns the composed answer plus the
// source passages that grounded it.
func (t *Tool) Execute(ctx context.Context, params any, _ tool.Context) (any, error) {
	query, err := tool.RequireString(params, "query")
	if err != nil {
		return tool.ErrorResult("query is required"), nil
	}

	out, err := t.client.RetrieveAndGenerate(ctx, &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &agtypes.RetrieveAndGenerateInput{Text: aws.String(query)},
		RetrieveAndGenerateConfiguration: &agtypes.RetrieveAndGenerateConfiguration{
			Type: agtypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agtypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(t.knowledgeBaseID),
				ModelArn:        aws.String(t.modelArn),
			},
		},
	})
	if err != nil {
		return tool.ErrorResult("knowledge base query failed: " + err.Error()), nil
	}

	answer := ""
	if out.Output != nil && out.Output.Text != nil {
		answer = *out.Output.Text
	}
	if answer == "" {
		return tool.ErrorResult("the knowledge base returned no answer for this query"), nil
	}

	sources := make([]string, 0, len(out.Citations))
	for _, c := range out.Citations {
		for _, ref := range c.RetrievedReferences {
			if ref.Content != nil && ref.Content.Text != nil {
				sources = append(sources, *ref.Content.Text)
			}
		}
	}

	return map[string]any{
		"answer":            answer,
		"fromKnowledgeBase": true,
		"sources":           sources,
	}, nil
}
