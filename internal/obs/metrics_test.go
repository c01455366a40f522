package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/projects/abc":                   "/v1/projects/:id",
		"/v1/projects/abc/logbook":           "/v1/projects/:id/logbook",
		"/v1/projects/abc/unknown":           "/v1/projects/abc/unknown",
		"/v1/proposals/abc/approve":          "/v1/proposals/:id/approve",
		"/v1/invitations/tok-1":              "/v1/invitations/:id",
		"/v1/departments/d1/ranks":           "/v1/departments/:id/ranks",
		"/v1/covenant/seats/s1":              "/v1/covenant/seats/:id",
		"/v1/projects?status=active":         "/v1/projects",
		"/v1/projects/abc/assignments/u1":    "/v1/projects/:id/assignments/u1",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
