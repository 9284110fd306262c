package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// FilterResult is the verdict of one content-filter category.
type FilterResult struct {
	Filtered bool   `json:"filtered"`
	Severity string `json:"severity,omitempty"`
	Detected *bool  `json:"detected,omitempty"`
}

// PolicyError reports that a provider refused a request or a completion on
// content-policy grounds.
type PolicyError struct {
	Provider      string                  `json:"provider"`
	Code          string                  `json:"code"`
	Message       string                  `json:"message"`
	InnerCode     string                  `json:"inner_code,omitempty"`
	FilterResults map[string]FilterResult `json:"content_filter_result,omitempty"`
}

func (e *PolicyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: content policy violation (%s)", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: content policy violation (%s): %s", e.Provider, e.Code, e.Message)
}

// FilteredCategories returns the sorted names of categories that triggered
// the filter (filtered, or detected for detection-only categories).
func (e *PolicyError) FilteredCategories() []string {
	var out []string
	for name, r := range e.FilterResults {
		if r.Filtered || (r.Detected != nil && *r.Detected) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// FilterResultsJSON renders the per-category results, or "" when none were reported.
func (e *PolicyError) FilterResultsJSON() string {
	if len(e.FilterResults) == 0 {
		return ""
	}
	b, err := json.Marshal(e.FilterResults)
	if err != nil {
		return ""
	}
	return string(b)
}

// AsPolicyError unwraps err into a *PolicyError.
func AsPolicyError(err error) (*PolicyError, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

type filterPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	InnerError *struct {
		Code                string                  `json:"code"`
		ContentFilterResult map[string]FilterResult `json:"content_filter_result"`
	} `json:"innererror"`
	ContentFilterResults map[string]FilterResult `json:"content_filter_results"`
}

// ParseFilterPayload decodes a provider error body into a PolicyError. Both
// the wrapped form {"error": {...}} and the bare error object are accepted.
// Provider is left for the caller to fill in.
func ParseFilterPayload(raw []byte) (*PolicyError, error) {
	var wrapped struct {
		Error *filterPayload `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("model: parse filter payload: %w", err)
	}

	p := wrapped.Error
	if p == nil {
		p = &filterPayload{}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("model: parse filter payload: %w", err)
		}
	}

	pe := &PolicyError{Code: p.Code, Message: p.Message, FilterResults: p.ContentFilterResults}
	if p.InnerError != nil {
		pe.InnerCode = p.InnerError.Code
		if len(p.InnerError.ContentFilterResult) > 0 {
			pe.FilterResults = p.InnerError.ContentFilterResult
		}
	}
	return pe, nil
}
