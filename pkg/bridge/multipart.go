package bridge

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	partJSON = "json"
	partAST  = "ast"
)

var errMissingJSONPart = errors.New("multipart response has no json part")

// decodeAnalysis reads an analysis response. The engine answers either with
// plain JSON or with a multipart body carrying the JSON result and the
// serialized syntax tree as separate parts.
func decodeAnalysis(r *http.Response) (AnalysisResponse, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		var out AnalysisResponse

		decodeErr := decodeJSON(r.Body, &out)
		if decodeErr != nil {
			return AnalysisResponse{}, decodeErr
		}

		return out, nil
	}

	return decodeMultipart(r.Body, params["boundary"])
}

func decodeMultipart(body io.Reader, boundary string) (AnalysisResponse, error) {
	var (
		out     AnalysisResponse
		sawJSON bool
		ast     []byte
	)

	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return AnalysisResponse{}, fmt.Errorf("next part: %w", err)
		}

		switch part.FormName() {
		case partJSON:
			decodeErr := decodeJSON(part, &out)
			if decodeErr != nil {
				return AnalysisResponse{}, decodeErr
			}

			sawJSON = true
		case partAST:
			data, readErr := io.ReadAll(part)
			if readErr != nil {
				return AnalysisResponse{}, fmt.Errorf("read ast part: %w", readErr)
			}

			ast = data
		}

		part.Close()
	}

	if !sawJSON {
		return AnalysisResponse{}, errMissingJSONPart
	}

	if len(ast) > 0 {
		out.AST = ast
	}

	return out, nil
}
