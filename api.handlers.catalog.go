package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// failRequest logs err then sends the api error mapped from its kind.
// Internal failures are not detailed to the client.
func (api *APIHandler) failRequest(w http.ResponseWriter, r *http.Request, err error, message string) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	api.logger.Error(message, zap.String("request.id", requestID), zap.Error(err))
	status := StatusFromError(err)
	var data interface{} = EmptyData
	if status != http.StatusInternalServerError {
		data = err.Error()
	}
	errResp := NewAPIError(requestID, status, message, data)
	if err = WriteErrorResponse(r.Context(), w, errResp); err != nil {
		api.logger.Error("failed to send error response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// succeed sends a success envelope with data.
func (api *APIHandler) succeed(w http.ResponseWriter, r *http.Request, status int, message string, total *int, data interface{}) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	resp := GenericResponse(requestID, status, message, total, data)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.logger.Error("failed to send response", zap.String("request.id", requestID), zap.Error(err))
	}
}

// Login exchanges valid credentials against a bearer token.
func (api *APIHandler) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req LoginRequest
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	if err := DecodeRequestBody(r, &req); err != nil {
		api.failRequest(w, r, invalidInput(err), "failed to decode login request")
		return
	}
	if err := ValidateLoginRequestBody(&req); err != nil {
		api.failRequest(w, r, invalidInput(err), "failed to validate login request")
		return
	}

	id, err := api.verifier.Verify(req.Username, req.Password)
	if err != nil {
		api.failRequest(w, r, err, "failed to login")
		return
	}

	token, expiresAt, err := api.tokens.Sign(id)
	if err != nil {
		api.failRequest(w, r, err, "failed to issue session token")
		return
	}

	api.logger.Info("user logged in", zap.String("request.id", requestID), zap.String("user", id.Username), zap.Bool("admin", id.Admin))
	api.succeed(w, r, http.StatusOK, "Logged in successfully.", nil, map[string]interface{}{
		"token":     token,
		"expiresAt": expiresAt.Format(time.RFC3339),
		"username":  id.Username,
		"admin":     id.Admin,
	})
}

// ListBooks serves the whole inventory, exhausted titles included.
func (api *APIHandler) ListBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	books, err := api.catalogService.ListBooks(r.Context())
	if err != nil {
		api.failRequest(w, r, err, "failed to get all books")
		return
	}
	total := len(books)
	api.succeed(w, r, http.StatusOK, "All books fetched successfully.", &total, books)
}

// ListAvailable serves the titles with at least one copy on shelf.
func (api *APIHandler) ListAvailable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	books, err := api.catalogService.ListAvailable(r.Context())
	if err != nil {
		api.failRequest(w, r, err, "failed to get available books")
		return
	}
	total := len(books)
	api.succeed(w, r, http.StatusOK, "Available books fetched successfully.", &total, books)
}

// AddBook registers a new title. Only administrators are allowed.
func (api *APIHandler) AddBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	caller, _ := GetIdentityFromContext(r.Context())
	if !caller.Admin {
		api.logger.Warn("book creation denied", zap.String("request.id", requestID), zap.String("user", caller.Username))
		errResp := NewAPIError(requestID, http.StatusForbidden, "only administrators can add books", EmptyData)
		if err := WriteErrorResponse(r.Context(), w, errResp); err != nil {
			api.logger.Error("failed to send error response", zap.String("request.id", requestID), zap.Error(err))
		}
		return
	}

	var req AddBookRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.failRequest(w, r, invalidInput(err), "failed to add the book")
		return
	}
	if err := ValidateAddBookRequestBody(&req); err != nil {
		api.failRequest(w, r, invalidInput(err), "failed to add the book")
		return
	}

	entry, err := api.catalogService.AddBook(r.Context(), req.Title, req.Copies)
	if err != nil {
		api.failRequest(w, r, err, "failed to add the book")
		return
	}
	api.succeed(w, r, http.StatusCreated, "Book added successfully.", nil, map[string]interface{}{
		"title":           req.Title,
		"totalCopies":     entry.TotalCopies,
		"availableCopies": entry.AvailableCopies,
	})
}

// IssueBook lends one copy of the requested title to the caller.
func (api *APIHandler) IssueBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, _ := GetIdentityFromContext(r.Context())
	var req IssueBookRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.failRequest(w, r, invalidInput(err), "failed to issue the book")
		return
	}
	if err := ValidateIssueBookRequestBody(&req); err != nil {
		api.failRequest(w, r, invalidInput(err), "failed to issue the book")
		return
	}

	loan, err := api.catalogService.Issue(r.Context(), caller.Username, req.Title)
	if err != nil {
		api.failRequest(w, r, err, "failed to issue the book")
		return
	}
	api.succeed(w, r, http.StatusCreated, "Book issued successfully.", nil, loan)
}

// ListLoans serves the active loans. Use `?user=` to filter by a part of the
// borrower name and `?overdue=true` to keep late loans only.
func (api *APIHandler) ListLoans(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	user := q.Get("user")
	overdue := false
	if v := q.Get("overdue"); v != "" {
		var err error
		if overdue, err = strconv.ParseBool(v); err != nil {
			api.failRequest(w, r, invalidInput(err), "invalid overdue filter")
			return
		}
	}

	var loans []LoanView
	var err error
	if user == "" && !overdue {
		loans, err = api.catalogService.ListAllLoans(r.Context())
	} else {
		loans, err = api.catalogService.FilterLoans(r.Context(), user, overdue)
	}
	if err != nil {
		api.failRequest(w, r, err, "failed to get loans")
		return
	}
	total := len(loans)
	api.succeed(w, r, http.StatusOK, "Loans fetched successfully.", &total, loans)
}

// MyLoans serves the loans of the caller with their overdue flag.
func (api *APIHandler) MyLoans(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, _ := GetIdentityFromContext(r.Context())
	loans, err := api.catalogService.LoansForUser(r.Context(), caller.Username)
	if err != nil {
		api.failRequest(w, r, err, "failed to get user loans")
		return
	}
	total := len(loans)
	api.succeed(w, r, http.StatusOK, "User loans fetched successfully.", &total, loans)
}

// ReturnBook closes the loan identified by the transaction id in path.
func (api *APIHandler) ReturnBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	loan, err := api.catalogService.Return(r.Context(), id)
	if err != nil {
		api.failRequest(w, r, err, "failed to return the book")
		return
	}
	api.succeed(w, r, http.StatusOK, "Book returned successfully.", nil, loan)
}

// Summary serves the catalog dashboard counters.
func (api *APIHandler) Summary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	summary, err := api.catalogService.Summary(r.Context())
	if err != nil {
		api.failRequest(w, r, err, "failed to compute summary")
		return
	}
	api.succeed(w, r, http.StatusOK, "Summary computed successfully.", nil, summary)
}
