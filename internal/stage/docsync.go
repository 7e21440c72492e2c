package stage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/goccy/go-yaml"
)

var ErrInvalidRepository = errors.New("invalid repository id")

var (
	repositoryIDPattern = regexp.MustCompile(`^[\w.-]+(/[\w.-]+)?$`)
	jsRoute             = regexp.MustCompile("\\b(?:app|router)\\.(get|post|put|patch|delete)\\(\\s*[\"'`]([^\"'`]+)[\"'`]")
	goRoute             = regexp.MustCompile(`\.(GET|POST|PUT|PATCH|DELETE)\(\s*"([^"]+)"`)
	nextHandler         = regexp.MustCompile(`(?m)^export\s+(?:async\s+)?(?:function|const)\s+(GET|POST|PUT|PATCH|DELETE)\b`)
	pathParam           = regexp.MustCompile(`:(\w+)`)
	nextSegmentParam    = regexp.MustCompile(`^\[(\w+)\]$`)
)

var openAPIFiles = []string{
	"openapi.yaml", "openapi.yml", "openapi.json",
	"swagger.yaml", "swagger.yml", "swagger.json",
}

var httpMethods = []string{"get", "post", "put", "patch", "delete", "head", "options"}

type openAPIDocument struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

// GitDocSync compares the routes declared in a repository's source with its
// OpenAPI document at a given ref. Repositories are read from local clones
// under ReposDir, one directory per repository id.
type GitDocSync struct {
	ReposDir string
}

func NewGitDocSync(reposDir string) *GitDocSync {
	return &GitDocSync{ReposDir: reposDir}
}

func (ds *GitDocSync) CheckDrift(
	ctx context.Context,
	repositoryID, ref string,
	policy DriftPolicy,
) (*DriftReport, error) {
	if !repositoryIDPattern.MatchString(repositoryID) || strings.Contains(repositoryID, "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRepository, repositoryID)
	}
	repo, err := git.PlainOpen(filepath.Join(ds.ReposDir, filepath.FromSlash(repositoryID)))
	if err != nil {
		return nil, fmt.Errorf("err opening repository %s: %w", repositoryID, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("err resolving %s: %w", ref, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, err
	}
	files, err := commit.Files()
	if err != nil {
		return nil, err
	}

	implemented := make(map[Endpoint]struct{})
	documented := make(map[Endpoint]struct{})
	err = files.ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if skipPath(f.Name) {
			return nil
		}
		isOpenAPI := slices.Contains(openAPIFiles, path.Base(f.Name))
		if !isOpenAPI && !isSourceFile(f.Name) {
			return nil
		}
		content, err := f.Contents()
		if err != nil {
			return err
		}
		if isOpenAPI {
			endpoints, err := parseOpenAPI(content)
			if err != nil {
				return fmt.Errorf("err parsing %s: %w", f.Name, err)
			}
			for _, e := range endpoints {
				documented[e] = struct{}{}
			}
			return nil
		}
		for _, e := range sourceRoutes(f.Name, content) {
			implemented[e] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &DriftReport{
		MissingEndpoints: difference(implemented, documented),
		ChangedEndpoints: difference(documented, implemented),
	}
	report.DriftDetected = len(report.MissingEndpoints)+len(report.ChangedEndpoints) > 0
	report.IsBlocked = report.DriftDetected &&
		policy.DriftPrevention.Enabled &&
		policy.DriftPrevention.Action == "block"
	return report, nil
}

func skipPath(name string) bool {
	for _, dir := range []string{"node_modules/", "vendor/", ".git/"} {
		if strings.HasPrefix(name, dir) || strings.Contains(name, "/"+dir) {
			return true
		}
	}
	return false
}

func isSourceFile(name string) bool {
	switch path.Ext(name) {
	case ".ts", ".tsx", ".js", ".jsx", ".go":
		return !strings.HasSuffix(name, "_test.go") && !strings.Contains(name, ".test.")
	}
	return false
}

func parseOpenAPI(content string) ([]Endpoint, error) {
	doc := new(openAPIDocument)
	if err := yaml.Unmarshal([]byte(content), doc); err != nil {
		return nil, err
	}
	var endpoints []Endpoint
	for p, operations := range doc.Paths {
		for method := range operations {
			method = strings.ToLower(method)
			if slices.Contains(httpMethods, method) {
				endpoints = append(endpoints, Endpoint{
					Method: strings.ToUpper(method),
					Path:   normalizeRoute(p),
				})
			}
		}
	}
	return endpoints, nil
}

func sourceRoutes(name, content string) []Endpoint {
	var endpoints []Endpoint
	if route, ok := nextRoute(name); ok {
		for _, m := range nextHandler.FindAllStringSubmatch(content, -1) {
			endpoints = append(endpoints, Endpoint{Method: m[1], Path: route})
		}
		return endpoints
	}
	for _, re := range []*regexp.Regexp{jsRoute, goRoute} {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			endpoints = append(endpoints, Endpoint{
				Method: strings.ToUpper(m[1]),
				Path:   normalizeRoute(m[2]),
			})
		}
	}
	return endpoints
}

// nextRoute maps a Next.js app router handler file such as
// app/api/users/[id]/route.ts to its route /api/users/{id}.
func nextRoute(name string) (string, bool) {
	base := path.Base(name)
	if strings.TrimSuffix(base, path.Ext(base)) != "route" {
		return "", false
	}
	segments := strings.Split(path.Dir(name), "/")
	i := slices.Index(segments, "app")
	if i < 0 {
		return "", false
	}
	parts := make([]string, 0, len(segments)-i)
	for _, s := range segments[i+1:] {
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			continue
		}
		if m := nextSegmentParam.FindStringSubmatch(s); m != nil {
			s = "{" + m[1] + "}"
		}
		parts = append(parts, s)
	}
	return "/" + strings.Join(parts, "/"), true
}

func normalizeRoute(route string) string {
	route = pathParam.ReplaceAllString(route, "{$1}")
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

func difference(a, b map[Endpoint]struct{}) []Endpoint {
	out := make([]Endpoint, 0)
	for e := range a {
		if _, ok := b[e]; !ok {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(x, y Endpoint) int {
		return strings.Compare(x.String(), y.String())
	})
	return out
}
