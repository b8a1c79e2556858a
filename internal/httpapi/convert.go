package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/pbconv"
)

// decodeBody fills dst from a JSON or protobuf Struct body.  An empty
// body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			return err
		}
		return pbconv.FromStruct(&msg, dst)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// respond writes v in the encoding the client asked for.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		msg, err := pbconv.ToStruct(v)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
				Error: "internal_error", Message: "response encoding failed",
			})
			return
		}
		writeProto(w, status, msg)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respond(w, r, status, types.ErrorResponse{Error: code, Message: message})
}
