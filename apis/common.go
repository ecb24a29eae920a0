package apis

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/handyconnect/liveupdate/rest"
)

// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// writeStandardResponse write one {status, data, message} envelope, the
// response convention every HandyConnect resource end-point follows
func writeStandardResponse(w http.ResponseWriter, respCode int, resp rest.StandardResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(respCode)
	serialized, err := json.Marshal(&resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(serialized); err != nil {
		return err
	}
	return nil
}

// successResponse envelope helper
func successResponse(data interface{}) (rest.StandardResponse, error) {
	serialized, err := json.Marshal(data)
	if err != nil {
		return rest.StandardResponse{}, err
	}
	return rest.StandardResponse{Status: "success", Data: serialized}, nil
}

// errorResponse envelope helper
func errorResponse(message string) rest.StandardResponse {
	return rest.StandardResponse{Status: "error", Message: &message}
}
