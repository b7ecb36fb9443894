package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20

// form holds request fields decoded from either a JSON object or an urlencoded body.
// The mobile client sends forms; other callers send JSON with numbers or strings.
type form map[string]string

func (f form) get(key string) string {
	return strings.TrimSpace(f[key])
}

// readForm fails only when the body exceeds maxBodyBytes. Malformed bodies decode to an
// empty form so that field validation reports them.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	f := form{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			if tooLarge(err) {
				return nil, err
			}
			s.log.Debug("decode json body", "err", err)
			return f, nil
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				f[k] = val
			case json.Number:
				f[k] = val.String()
			case bool:
				if val {
					f[k] = "true"
				} else {
					f[k] = "false"
				}
			}
		}
		return f, nil
	}

	if err := r.ParseForm(); err != nil {
		if tooLarge(err) {
			return nil, err
		}
		s.log.Debug("parse form body", "err", err)
		return f, nil
	}
	for k := range r.PostForm {
		f[k] = r.PostForm.Get(k)
	}
	return f, nil
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
