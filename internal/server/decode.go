package server

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fenggwsx/roomlink/internal/protocol"
)

var errInvalidPayload = errors.New("invalid payload")

// decodeRequest converts a generic envelope payload into T and validates its
// struct tags.
func decodeRequest[T any](validate *validator.Validate, payload interface{}) (T, error) {
	req, err := protocol.DecodePayload[T](payload)
	if err != nil {
		return req, errors.Join(errInvalidPayload, err)
	}
	if err := validate.Struct(req); err != nil {
		return req, errors.Join(errInvalidPayload, err)
	}
	return req, nil
}

func metadataAction(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata["action"].(string); ok {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return ""
}
