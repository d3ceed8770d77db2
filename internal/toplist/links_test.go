package toplist

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	doc := `<html><body>
<p>Please review <a href="https://docs.google.com/doc/1">this doc</a>.</p>
<p>Mirror: https://evil-login.example.xyz/reset, or www.phish.test/login.</p>
<div>https://docs.google.com/doc/1</div><div>www.second.test</div>
<a href="mailto:someone@example.com">mail</a>
<a href="/relative">rel</a>
</body></html>`

	links, err := ExtractLinks(strings.NewReader(doc))
	require.NoError(t, err)

	want := []string{
		"https://docs.google.com/doc/1",
		"https://evil-login.example.xyz/reset",
		"www.phish.test/login",
		"www.second.test",
	}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("ExtractLinks mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractLinksPlainText(t *testing.T) {
	links, err := ExtractLinks(strings.NewReader("see http://a.example.com and nothing else"))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"http://a.example.com"}, links); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckLinks(t *testing.T) {
	ix := NewIndex("google.com", "tranco-list.eu", "mail.example.net")

	got := ix.CheckLinks([]string{
		"https://docs.google.com/a",
		"https://drive.google.com/b",
		"www.unknown.test/x",
		"https://mail.example.net/inbox",
		"not a link",
		"https://tranco-list.eu/list",
	})

	want := []LinkFinding{
		{Domain: "google.com", Host: "docs.google.com", Link: "https://docs.google.com/a", Listed: true},
		{Domain: "unknown.test", Host: "www.unknown.test", Link: "www.unknown.test/x", Listed: false},
		{Domain: "example.net", Host: "mail.example.net", Link: "https://mail.example.net/inbox", Listed: true},
		{Domain: "tranco-list.eu", Host: "tranco-list.eu", Link: "https://tranco-list.eu/list", Listed: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CheckLinks mismatch (-want +got):\n%s", diff)
	}

	unlisted := Unlisted(got)
	require.Len(t, unlisted, 1)
	require.Equal(t, "unknown.test", unlisted[0].Domain)
}
