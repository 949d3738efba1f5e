// Package engine turns one natural-language instruction plus a declared
// task type into a result string and zero or more uploaded artifacts.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/notuslabs/agentflow/internal/blob"
	"github.com/notuslabs/agentflow/internal/bridge"
	"github.com/notuslabs/agentflow/internal/imagegen"
	"github.com/notuslabs/agentflow/internal/llm"
	"github.com/notuslabs/agentflow/internal/memory"
	"github.com/notuslabs/agentflow/internal/observability"
	"github.com/notuslabs/agentflow/internal/taskstore"
)

type TaskType string

const (
	TypeGeneral         TaskType = "general"
	TypeSlides          TaskType = "slides"
	TypeWebsite         TaskType = "website"
	TypeApp             TaskType = "app"
	TypeDesign          TaskType = "design"
	TypeComputerControl TaskType = "computer_control"
)

func ValidTaskType(t TaskType) bool {
	switch t {
	case TypeGeneral, TypeSlides, TypeWebsite, TypeApp, TypeDesign, TypeComputerControl:
		return true
	default:
		return false
	}
}

// Request describes one task execution.
type Request struct {
	TaskID      string
	UserID      string
	TaskType    TaskType
	Instruction string
	Context     map[string]string
}

// Result is the complete outcome of one execution. Steps is a fixed-shape
// audit trail, not a true execution trace: each stage appends exactly one
// record regardless of how much work it did.
type Result struct {
	Success bool             `json:"success"`
	Result  string           `json:"result,omitempty"`
	Steps   []taskstore.Step `json:"steps"`
	Files   []taskstore.File `json:"files"`
	Error   string           `json:"error,omitempty"`
}

// Options tune the context assembly and the GUI-automation poll loop.
type Options struct {
	ContextMemoryLimit int
	RecentMessageLimit int
	BridgePollInterval time.Duration
	BridgePollTimeout  time.Duration
}

// Engine orchestrates one plan call followed by one typed dispatch, then
// persists anything worth remembering.
type Engine struct {
	llm      llm.Client
	images   imagegen.Client
	blobs    blob.Store
	bridge   bridge.Client
	memories memory.Store
	metrics  *observability.Metrics
	opts     Options
}

func New(llmClient llm.Client, images imagegen.Client, blobs blob.Store, bridgeClient bridge.Client, memories memory.Store, metrics *observability.Metrics, opts Options) *Engine {
	if opts.ContextMemoryLimit <= 0 {
		opts.ContextMemoryLimit = 5
	}
	if opts.RecentMessageLimit <= 0 {
		opts.RecentMessageLimit = 10
	}
	if opts.BridgePollInterval <= 0 {
		opts.BridgePollInterval = 3 * time.Second
	}
	if opts.BridgePollTimeout <= 0 {
		opts.BridgePollTimeout = 10 * time.Minute
	}
	return &Engine{
		llm:      llmClient,
		images:   images,
		blobs:    blobs,
		bridge:   bridgeClient,
		memories: memories,
		metrics:  metrics,
		opts:     opts,
	}
}

// Execute never returns an error: any stage failure collapses into
// {Success: false, Error: message}. Artifacts uploaded before the failure
// are not rolled back.
func (e *Engine) Execute(ctx context.Context, req Request) Result {
	if !ValidTaskType(req.TaskType) {
		req.TaskType = TypeGeneral
	}
	steps := make([]taskstore.Step, 0, 3)

	plan, err := e.plan(ctx, req)
	if err != nil {
		e.metrics.ObserveProviderError("llm", "plan")
		return failure(err, steps)
	}
	steps = append(steps, newStep("Break the instruction into a short plan.", "plan", plan))

	resultText, files, observation, err := e.dispatch(ctx, req, plan)
	if err != nil {
		return failure(err, steps)
	}
	steps = append(steps, newStep("Carry out the planned work.", string(req.TaskType), observation))

	memObservation := e.remember(ctx, req, resultText)
	steps = append(steps, newStep("Persist anything worth remembering.", "memory", memObservation))

	if files == nil {
		files = []taskstore.File{}
	}
	return Result{
		Success: true,
		Result:  resultText,
		Steps:   steps,
		Files:   files,
	}
}

func (e *Engine) plan(ctx context.Context, req Request) (string, error) {
	system := e.buildSystemContext(ctx, req)
	res, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: fmt.Sprintf(
				"Produce a short plan (3 sentences at most) for this %s task:\n%s",
				req.TaskType, req.Instruction)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("plan task: %w", err)
	}
	return res.Text, nil
}

// buildSystemContext injects recent conversation turns and the most
// relevant memory entries. Store outages degrade to a bare prompt rather
// than failing the task.
func (e *Engine) buildSystemContext(ctx context.Context, req Request) string {
	var b strings.Builder
	b.WriteString("You are an AI agent planning and executing tasks for a user.")

	if req.UserID != "" && e.memories != nil {
		if msgs, err := e.memories.RecentMessages(ctx, req.UserID, e.opts.RecentMessageLimit); err == nil && len(msgs) > 0 {
			b.WriteString("\n\nRecent conversation:\n")
			for _, m := range msgs {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			}
		}
		if entries, err := e.memories.ContextForTask(ctx, req.UserID, req.Instruction, e.opts.ContextMemoryLimit); err == nil && len(entries) > 0 {
			b.WriteString("\nWhat you know about the user:\n")
			for _, entry := range entries {
				fmt.Fprintf(&b, "- %s: %s\n", entry.Key, entry.Value)
			}
		}
	}
	for k, v := range req.Context {
		fmt.Fprintf(&b, "\nContext %s: %s", k, v)
	}
	return b.String()
}

func (e *Engine) dispatch(ctx context.Context, req Request, plan string) (string, []taskstore.File, string, error) {
	switch req.TaskType {
	case TypeDesign, TypeSlides:
		return e.runImage(ctx, req)
	case TypeWebsite, TypeApp:
		return e.runCode(ctx, req, plan)
	case TypeComputerControl:
		return e.runComputerControl(ctx, req)
	default:
		return e.runGeneral(ctx, req, plan)
	}
}

func (e *Engine) runGeneral(ctx context.Context, req Request, plan string) (string, []taskstore.File, string, error) {
	res, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Execute the task below. Plan:\n" + plan},
			{Role: "user", Content: req.Instruction},
		},
	})
	if err != nil {
		e.metrics.ObserveProviderError("llm", "generate")
		return "", nil, "", fmt.Errorf("generate response: %w", err)
	}
	return res.Text, nil, "Produced a text answer.", nil
}

func (e *Engine) runImage(ctx context.Context, req Request) (string, []taskstore.File, string, error) {
	img, err := e.images.Generate(ctx, req.Instruction)
	if err != nil {
		e.metrics.ObserveProviderError("imagegen", "generate")
		return "", nil, "", fmt.Errorf("generate image: %w", err)
	}
	files := []taskstore.File{{
		Name:        "design.png",
		URL:         img.URL,
		ContentType: "image/png",
	}}
	return img.URL, files, "Generated 1 image.", nil
}

func (e *Engine) runCode(ctx context.Context, req Request, plan string) (string, []taskstore.File, string, error) {
	res, err := e.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Generate the project described below. " +
				"Respond with a single JSON object mapping file names to full file contents, nothing else. Plan:\n" + plan},
			{Role: "user", Content: req.Instruction},
		},
	})
	if err != nil {
		e.metrics.ObserveProviderError("llm", "generate")
		return "", nil, "", fmt.Errorf("generate code: %w", err)
	}

	sources := parseFileMap(res.Text)

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]taskstore.File, 0, len(names))
	for _, name := range names {
		key := req.TaskID + "/" + name
		url, err := e.blobs.Put(ctx, key, []byte(sources[name]), contentTypeFor(name))
		if err != nil {
			e.metrics.ObserveProviderError("blob", "upload")
			return "", nil, "", fmt.Errorf("upload %s: %w", name, err)
		}
		files = append(files, taskstore.File{Name: name, URL: url, ContentType: contentTypeFor(name)})
	}
	result := fmt.Sprintf("Generated %d file(s).", len(files))
	return result, files, result, nil
}

// parseFileMap interprets the model output as filename->content JSON. On
// parse failure the whole response becomes a single index.html.
func parseFileMap(text string) map[string]string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var sources map[string]string
	if err := json.Unmarshal([]byte(trimmed), &sources); err == nil && len(sources) > 0 {
		return sources
	}
	return map[string]string{"index.html": text}
}

func (e *Engine) runComputerControl(ctx context.Context, req Request) (string, []taskstore.File, string, error) {
	if err := e.bridge.CheckHealth(ctx); err != nil {
		e.metrics.ObserveProviderError("bridge", "health")
		return "", nil, "", fmt.Errorf("automation bridge unavailable: %w", err)
	}

	jobID, err := e.bridge.Submit(ctx, req.Instruction, string(req.TaskType))
	if err != nil {
		e.metrics.ObserveProviderError("bridge", "submit")
		return "", nil, "", fmt.Errorf("submit automation task: %w", err)
	}

	status, err := e.bridge.WaitForCompletion(ctx, jobID, e.opts.BridgePollInterval, e.opts.BridgePollTimeout)
	if err != nil {
		e.metrics.ObserveProviderError("bridge", "poll")
		return "", nil, "", fmt.Errorf("wait for automation: %w", err)
	}
	if status.State == bridge.JobFailed {
		return "", nil, "", fmt.Errorf("automation failed: %s", status.Error)
	}

	var files []taskstore.File
	if status.Screenshot != "" {
		data, err := base64.StdEncoding.DecodeString(status.Screenshot)
		if err != nil {
			return "", nil, "", fmt.Errorf("decode screenshot: %w", err)
		}
		url, err := e.blobs.Put(ctx, req.TaskID+"/screenshot.png", data, "image/png")
		if err != nil {
			e.metrics.ObserveProviderError("blob", "upload")
			return "", nil, "", fmt.Errorf("upload screenshot: %w", err)
		}
		files = append(files, taskstore.File{Name: "screenshot.png", URL: url, ContentType: "image/png"})
	}

	result := status.Result
	if result == "" {
		result = "Automation task completed."
	}
	return result, files, "Drove the desktop via the automation bridge.", nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js", ".mjs":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func newStep(thought, action, observation string) taskstore.Step {
	return taskstore.Step{
		Thought:     thought,
		Action:      action,
		Observation: observation,
		At:          time.Now().UTC(),
	}
}

func failure(err error, steps []taskstore.Step) Result {
	return Result{
		Success: false,
		Steps:   steps,
		Files:   []taskstore.File{},
		Error:   err.Error(),
	}
}
