package media

import (
	"fmt"
	"net/url"

	"github.com/cloudinary/cloudinary-go/v2/api"
)

// SignParams signs the upload parameters the client will post. Empty values
// are left out because the client does not send them.
func SignParams(params map[string]string, secret string) (string, error) {
	values := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}

	signature, err := api.SignParameters(values, secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign upload params: %w", err)
	}
	return signature, nil
}
