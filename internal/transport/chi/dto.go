package chi

import (
	"time"

	domtag "github.com/kailas-cloud/dicomtags/internal/domain/querytag"
	domop "github.com/kailas-cloud/dicomtags/internal/domain/reindex"
	"github.com/kailas-cloud/dicomtags/internal/domain/validation"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeInvalidTag       = "invalid_tag"
	codeInvalidInstance  = "invalid_instance"
	codeNotFound         = "not_found"
	codeAlreadyExists    = "already_exists"
	codeAlreadySupported = "already_supported"
	codeLimitExceeded    = "tag_limit_exceeded"
	codeBusy             = "busy"
	codeConflict         = "conflict"
	codeValidationFailed = "validation_failed"
	codeUpgradeRequired  = "upgrade_required"
	codeUnavailable      = "unavailable"
	codeInternalError    = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Tag     string         `json:"tag,omitempty"`
	Failure *FailureDetail `json:"failure,omitempty"`
}

// FailureDetail describes an element rejected by validation.
type FailureDetail struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Element string `json:"element"`
	VR      string `json:"vr"`
	Value   string `json:"value,omitempty"`
}

// AddTagRequest registers one extended query tag.
type AddTagRequest struct {
	Path           string `json:"path"`
	VR             string `json:"vr,omitempty"`
	PrivateCreator string `json:"privateCreator,omitempty"`
	Level          string `json:"level"`
}

// AddTagsResponse reports the tags added and the backfill that indexes them.
type AddTagsResponse struct {
	OperationID string        `json:"operationId"`
	Tags        []TagResponse `json:"tags"`
}

// TagResponse is one registry entry.
type TagResponse struct {
	Key            int64  `json:"key"`
	Path           string `json:"path"`
	VR             string `json:"vr"`
	PrivateCreator string `json:"privateCreator,omitempty"`
	Level          string `json:"level"`
	Status         string `json:"status"`
	QueryStatus    string `json:"queryStatus"`
	ErrorCount     int    `json:"errorCount"`
	OperationID    string `json:"operationId,omitempty"`
}

// UpdateTagRequest changes the query status of a tag.
type UpdateTagRequest struct {
	QueryStatus string `json:"queryStatus"`
}

// TagErrorResponse is one record that failed indexing.
type TagErrorResponse struct {
	Watermark int64     `json:"watermark"`
	Code      int       `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// OperationResponse reports the progress of a reindex operation.
type OperationResponse struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	PercentComplete         int       `json:"percentComplete"`
	CompletedWatermarkRange []int64   `json:"completedWatermarkRange,omitempty"`
	TagKeys                 []int64   `json:"tagKeys"`
	ErrorCount              int       `json:"errorCount"`
	Attempts                int       `json:"attempts"`
	Failure                 string    `json:"failure,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// InstanceResponse describes a stored instance.
type InstanceResponse struct {
	Watermark         int64  `json:"watermark"`
	StudyInstanceUID  string `json:"studyInstanceUid"`
	SeriesInstanceUID string `json:"seriesInstanceUid"`
	SOPInstanceUID    string `json:"sopInstanceUid"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func tagToResponse(e domtag.Entry) TagResponse {
	resp := TagResponse{
		Key:            e.Key(),
		Path:           e.Path(),
		VR:             string(e.VR()),
		PrivateCreator: e.PrivateCreator(),
		Level:          e.Level().String(),
		Status:         e.Status().String(),
		QueryStatus:    e.QueryStatus().String(),
		ErrorCount:     e.ErrorCount(),
	}
	if id, ok := e.OperationID(); ok {
		resp.OperationID = id.String()
	}
	return resp
}

func tagsToResponse(entries []domtag.Entry) []TagResponse {
	out := make([]TagResponse, len(entries))
	for i, e := range entries {
		out[i] = tagToResponse(e)
	}
	return out
}

func tagErrorToResponse(r domtag.ErrorRecord) TagErrorResponse {
	return TagErrorResponse{
		Watermark: r.Watermark,
		Code:      r.Code,
		Name:      validation.Code(r.Code).String(),
		CreatedAt: r.CreatedAt,
	}
}

func summaryToResponse(s domop.Summary) OperationResponse {
	resp := OperationResponse{
		ID:              s.ID.String(),
		Status:          string(s.Status),
		PercentComplete: s.PercentComplete,
		TagKeys:         s.TagKeys,
		ErrorCount:      s.ErrorCount,
		Attempts:        s.Attempts,
		Failure:         s.Failure,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.Completed != nil {
		resp.CompletedWatermarkRange = []int64{s.Completed.Start, s.Completed.End}
	}
	if resp.TagKeys == nil {
		resp.TagKeys = []int64{}
	}
	return resp
}
