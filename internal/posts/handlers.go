package posts

import (
	"net/http"

	"github.com/campusbridge/campusbridge/internal/auth"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/google/uuid"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) error {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	var in Input
	if err := apperrors.DecodeJSON(r, &in, false); err != nil {
		return err
	}

	view, err := h.service.Create(r.Context(), Owner{ID: user.ID, Name: user.Name, UserName: user.UserName}, in)
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, "post created successfully", view)
	return nil
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	views, err := h.service.List(r.Context())
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "posts fetched successfully", views)
	return nil
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := postID(r)
	if err != nil {
		return err
	}

	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "post fetched successfully", view)
	return nil
}

func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) error {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	id, err := postID(r)
	if err != nil {
		return err
	}

	var in Input
	if err := apperrors.DecodeJSON(r, &in, false); err != nil {
		return err
	}

	view, err := h.service.Update(r.Context(), user.ID, id, in)
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "post updated successfully", view)
	return nil
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) error {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	id, err := postID(r)
	if err != nil {
		return err
	}

	view, err := h.service.Delete(r.Context(), user.ID, id)
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "post deleted successfully", view)
	return nil
}

// postID treats an unparseable id as a missing post.
func postID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("postId"))
	if err != nil {
		return uuid.Nil, apperrors.PostNotFound()
	}
	return id, nil
}
