/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zestmindsdev/reliable-ingestion-pipeline/pkg/apperrors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		RequestID string `json:"requestId,omitempty"`
	} `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

// respondError maps the taxonomy onto HTTP statuses. Storage detail is
// redacted outside development so driver internals never reach clients.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperrors.KindOf(err)

	var status int
	message := err.Error()
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindAuthorization:
		status = http.StatusForbidden
	case apperrors.KindBusinessLogic:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
		if !s.cfg.IsDevelopment() {
			message = "internal server error"
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = message
	body.Error.RequestID = middleware.GetReqID(r.Context())
	s.respondJSON(w, status, body)
}
