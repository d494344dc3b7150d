package manifest

import "testing"

func TestIsAbsolute(t *testing.T) {
	cases := map[string]bool{
		"https://surrit.com/a/seg.ts": true,
		"http://x/y":                  true,
		"seg-1.ts":                    false,
		"/abs/path.ts":                false,
		"":                            false,
	}
	for in, want := range cases {
		if got := IsAbsolute(in); got != want {
			t.Errorf("IsAbsolute(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://host/a/b/index.m3u8", "https://host/a/b/"},
		{"https://host/a/b/index.m3u8?token=1#x", "https://host/a/b/"},
		{"https://host/a/b/", "https://host/a/b/"},
		{"https://host", "https://host/"},
	}
	for _, tt := range tests {
		got, err := BaseURL(tt.in)
		if err != nil {
			t.Fatalf("BaseURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct{ base, ref, want string }{
		{"https://host/a/b/", "segment1.ts", "https://host/a/b/segment1.ts"},
		{"https://host/a/b/", "../c/seg.ts", "https://host/a/c/seg.ts"},
		{"https://host/a/b/", "/root.ts", "https://host/root.ts"},
		{"https://host/a/b/", "seg.ts?x=1", "https://host/a/b/seg.ts?x=1"},
		{"https://host/a/b/", "https://other/x.ts", "https://other/x.ts"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.base, tt.ref); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}

func TestDir(t *testing.T) {
	if got := Dir("https://surrit.com/u/playlist.m3u8"); got != "https://surrit.com/u" {
		t.Fatalf("unexpected dir %q", got)
	}
}

func TestNewDocument(t *testing.T) {
	d := NewDocument("#EXTM3U", "https://host/a/b/index.m3u8")
	if d.BaseURL != "https://host/a/b/" {
		t.Fatalf("unexpected base %q", d.BaseURL)
	}
	d2 := d.WithText("changed")
	if d.RawText != "#EXTM3U" || d2.RawText != "changed" || d2.SourceURL != d.SourceURL {
		t.Fatalf("WithText must copy: %+v %+v", d, d2)
	}
}

func TestIsManifest(t *testing.T) {
	tests := []struct {
		ct, u string
		want  bool
	}{
		{"application/vnd.apple.mpegurl", "https://h/x", true},
		{"application/x-mpegURL", "https://h/x", true},
		{"text/plain", "https://h/a/video.m3u8?t=1", true},
		{"video/mp2t", "https://h/a/seg.ts", false},
		{"", "https://h/a/seg.ts", false},
	}
	for _, tt := range tests {
		if got := IsManifest(tt.ct, tt.u); got != tt.want {
			t.Errorf("IsManifest(%q, %q) = %v, want %v", tt.ct, tt.u, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=842x480\n480p/video.m3u8\n"
	media := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nseg-1.ts\n#EXT-X-ENDLIST\n"

	if got := Classify(master); got != KindMaster {
		t.Fatalf("expected master, got %s", got)
	}
	if got := Classify(media); got != KindMedia {
		t.Fatalf("expected media, got %s", got)
	}
	if got := Classify("not a playlist"); got != KindUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}
