package validator

import (
	"testing"
)

type createReq struct {
	Name     string `json:"name" validate:"required,max=63,hostname_label"`
	Password string `json:"password" validate:"required,min=8"`
	Count    int    `json:"count" validate:"min=0"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     createReq
		wantErr string
	}{
		{"valid", createReq{Name: "web-1", Password: "s3cretpass"}, ""},
		{"missing name", createReq{Password: "s3cretpass"}, "name is required"},
		{"bad name", createReq{Name: "web_1", Password: "s3cretpass"}, "name may only contain letters, digits, '.' and '-'"},
		{"leading dash", createReq{Name: "-web", Password: "s3cretpass"}, "name may only contain letters, digits, '.' and '-'"},
		{"short password", createReq{Name: "web", Password: "short"}, "password must be at least 8 characters"},
		{"negative count", createReq{Name: "web", Password: "s3cretpass", Count: -1}, "count must be at least 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("got %v, want %q", err, tt.wantErr)
			}
		})
	}
}
