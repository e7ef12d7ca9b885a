package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Job types delivered to the worker. Local-path and URL submissions are
// distinct job types so each handler only deals with one source kind.
const (
	TypeProcessImage        = "process-image"
	TypeProcessImageFromURL = "process-image-from-url"
)

type ProcessImagePayload struct {
	TaskID       string `json:"task_id"`
	OriginalPath string `json:"original_path"`
}

type ProcessImageFromURLPayload struct {
	TaskID   string `json:"task_id"`
	ImageURL string `json:"image_url"`
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process-image payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process-image payload: %w", err)
	}
	return payload, nil
}

func NewProcessImageFromURLTask(payload ProcessImageFromURLPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process-image-from-url payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImageFromURL, body), nil
}

func ParseProcessImageFromURLPayload(task *asynq.Task) (ProcessImageFromURLPayload, error) {
	var payload ProcessImageFromURLPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImageFromURLPayload{}, fmt.Errorf("unmarshal process-image-from-url payload: %w", err)
	}
	return payload, nil
}
