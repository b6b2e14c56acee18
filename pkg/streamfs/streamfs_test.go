package streamfs

import "testing"

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		in                         string
		host, owner, repo, wantErr string
	}{
		{in: "https://dagshub.com/nirbarazida/yolov6", host: "dagshub.com", owner: "nirbarazida", repo: "yolov6"},
		{in: "https://dagshub.com/nirbarazida/yolov6.git", host: "dagshub.com", owner: "nirbarazida", repo: "yolov6"},
		{in: "https://dagshub.com/owner", wantErr: "owner/repo"},
		{in: "https://dagshub.com/%zz/repo", wantErr: "invalid"},
	}
	for _, c := range cases {
		host, owner, repo, err := parseRepoURL(c.in)
		if c.wantErr != "" {
			if err == nil {
				t.Errorf("%q: expected an error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", c.in, err)
			continue
		}
		if host != c.host || owner != c.owner || repo != c.repo {
			t.Errorf("%q: got (%q,%q,%q), want (%q,%q,%q)", c.in, host, owner, repo, c.host, c.owner, c.repo)
		}
	}
}

func TestMountRequiresProjectRoot(t *testing.T) {
	_, err := Mount(nil, MountOptions{RepoURL: "https://dagshub.com/a/b"})
	if err == nil {
		t.Fatal("expected an error for a missing ProjectRoot")
	}
}
