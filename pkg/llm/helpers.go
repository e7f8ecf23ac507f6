package llm

import (
	"encoding/base64"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
)

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	return errors.As(err, target)
}
