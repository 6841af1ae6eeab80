package dispatcher

import (
	"context"

	"graphmemory/internal/auth"
	"graphmemory/internal/model"
)

func retrievalTools() []Tool {
	return []Tool{
		{Name: "question_answer", Description: "Answer a question with cited prose composed over a memory's graph-guided retrieval.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleQuestionAnswer},
		{Name: "memory_query", Description: "Run graph-guided retrieval and return the structured entity/chunk bundle without an LLM call.", Permission: model.PermRead, MemoryArg: "memory_id", Handler: handleMemoryQuery},
	}
}

func handleQuestionAnswer(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	question, err := stringArg(args, "question", true)
	if err != nil {
		return nil, err
	}
	result, err := d.Query.QuestionAnswer(ctx, memoryID, question)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"answer":           result.Answer,
		"mode":             string(result.Mode),
		"entities":         result.Entities,
		"source_documents": result.SourceDocuments,
		"no_data_found":    result.NoDataFound,
	}, nil
}

func handleMemoryQuery(ctx context.Context, d *Dispatcher, p auth.Principal, args Args, progress ProgressFunc) (any, error) {
	memoryID, _ := stringArg(args, "memory_id", true)
	queryText, err := stringArg(args, "query", true)
	if err != nil {
		return nil, err
	}
	result, err := d.Query.MemoryQuery(ctx, memoryID, queryText)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mode":             string(result.Mode),
		"entities":         result.Entities,
		"chunks":           result.Chunks,
		"source_documents": result.SourceDocuments,
	}, nil
}
