package handle

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/util"
)

const imagesField = "images"

type jsonUpload struct {
	Images   []string `json:"images"`
	Provider string   `json:"provider"`
}

// readImages accepts multipart uploads in the "images" field, or a JSON
// body with base64 strings (data: URIs allowed). The JSON body may also name
// the provider.
func (h *Handle) readImages(w http.ResponseWriter, r *http.Request) ([]types.Image, string, error) {
	if h.opts.MaxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBytes)
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		imgs, err := h.readMultipart(r)
		return imgs, "", err
	case "application/json":
		return h.readJSON(r)
	default:
		return nil, "", &types.ValidationError{Message: "Send images as multipart/form-data or JSON."}
	}
}

func (h *Handle) readMultipart(r *http.Request) ([]types.Image, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, &types.ValidationError{Message: "Malformed upload."}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[imagesField]
	if len(files) == 0 {
		return nil, &types.ValidationError{Message: "No images provided."}
	}
	if len(files) > types.MaxImages {
		return nil, &types.ValidationError{Message: fmt.Sprintf("Too many images: at most %d per request.", types.MaxImages)}
	}

	out := make([]types.Image, 0, len(files))
	for i, fh := range files {
		if h.opts.MaxImageBytes > 0 && fh.Size > h.opts.MaxImageBytes {
			return nil, tooLarge(i, h.opts.MaxImageBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %d: %w", i+1, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %d: %w", i+1, err)
		}
		img, err := toImage(i, data, fh.Header.Get("Content-Type"), "", fh.Filename)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func (h *Handle) readJSON(r *http.Request) ([]types.Image, string, error) {
	var body jsonUpload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, "", err
		}
		return nil, "", &types.ValidationError{Message: "Malformed JSON body."}
	}
	if len(body.Images) > types.MaxImages {
		return nil, "", &types.ValidationError{Message: fmt.Sprintf("Too many images: at most %d per request.", types.MaxImages)}
	}
	out := make([]types.Image, 0, len(body.Images))
	for i, s := range body.Images {
		data, hint, err := util.DecodeBase64MaybeDataURL(s)
		if err != nil || len(data) == 0 {
			return nil, "", &types.ValidationError{Message: fmt.Sprintf("Image %d is not valid base64.", i+1)}
		}
		if h.opts.MaxImageBytes > 0 && int64(len(data)) > h.opts.MaxImageBytes {
			return nil, "", tooLarge(i, h.opts.MaxImageBytes)
		}
		img, err := toImage(i, data, "", hint, "")
		if err != nil {
			return nil, "", err
		}
		out = append(out, img)
	}
	return out, strings.TrimSpace(body.Provider), nil
}

func toImage(i int, data []byte, declared, hint, name string) (types.Image, error) {
	mt, err := util.PickMIME(declared, hint, data)
	if err != nil {
		return types.Image{}, &types.ValidationError{Message: fmt.Sprintf("Image %d is not a supported image type.", i+1)}
	}
	if name == "" {
		name = fmt.Sprintf("image-%d", i+1)
	}
	return types.Image{Data: data, MIME: mt, Name: name}, nil
}

func tooLarge(i int, limit int64) error {
	return &types.ValidationError{
		Message:  fmt.Sprintf("Image %d exceeds the %d MB limit.", i+1, limit>>20),
		TooLarge: true,
	}
}
