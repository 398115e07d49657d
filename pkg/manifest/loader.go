// Package manifest loads RBAC manifests from YAML/JSON files, directories or
// stdin into an authorizer.Store. Multi-document streams and v1/List
// wrappers are flattened; kinds the evaluator does not understand are
// skipped, not rejected, so full `kubectl get -o yaml` dumps load cleanly.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/kubernetes/scheme"

	"github.com/authzkit/kuberbac/pkg/authorizer"
)

// Stdin is the pseudo-path that makes Load read from standard input.
const Stdin = "-"

// Result is a populated store plus loading statistics.
type Result struct {
	Store *authorizer.Store

	// Counts is the number of stored objects per kind.
	Counts map[string]int

	// Skipped counts documents whose kind is not evaluated (Deployments,
	// Services, ... in a mixed manifest dump).
	Skipped int
}

// Loader decodes manifests using the client-go scheme.
type Loader struct {
	log     logr.Logger
	decoder runtime.Decoder

	// ignorePrefixes drops objects whose name starts with any of the given
	// prefixes, typically "system:" bootstrap policy.
	ignorePrefixes []string
}

// NewLoader returns a Loader. ignorePrefixes may be nil.
func NewLoader(log logr.Logger, ignorePrefixes []string) *Loader {
	return &Loader{
		log:            log,
		decoder:        scheme.Codecs.UniversalDeserializer(),
		ignorePrefixes: ignorePrefixes,
	}
}

// Load reads every path (file, directory walked recursively, or "-" for
// stdin) into a fresh store.
func (l *Loader) Load(paths []string) (*Result, error) {
	result := &Result{Store: authorizer.NewStore()}

	for _, path := range paths {
		if path == Stdin {
			if err := l.loadReader(os.Stdin, "stdin", result); err != nil {
				return nil, err
			}
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if info.IsDir() {
			if err := l.loadDir(path, result); err != nil {
				return nil, err
			}
			continue
		}
		if err := l.loadFile(path, result); err != nil {
			return nil, err
		}
	}

	result.Counts = result.Store.Counts()
	return result, nil
}

func (l *Loader) loadDir(dir string, result *Result) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			return l.loadFile(path, result)
		default:
			return nil
		}
	})
}

func (l *Loader) loadFile(path string, result *Result) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return l.loadReader(f, path, result)
}

// loadReader consumes one YAML/JSON stream, document by document.
func (l *Loader) loadReader(r io.Reader, source string, result *Result) error {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(r))
	for {
		doc, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", source, err)
		}
		if len(strings.TrimSpace(string(doc))) == 0 {
			continue
		}
		if err := l.storeDocument(doc, source, result); err != nil {
			return err
		}
	}
}

func (l *Loader) storeDocument(doc []byte, source string, result *Result) error {
	obj, gvk, err := l.decoder.Decode(doc, nil, nil)
	if err != nil {
		if runtime.IsNotRegisteredError(err) || runtime.IsMissingKind(err) {
			l.log.V(1).Info("skipping unrecognized document", "source", source, "err", err.Error())
			result.Skipped++
			return nil
		}
		return fmt.Errorf("decoding document from %s: %w", source, err)
	}

	if list, ok := obj.(*corev1.List); ok {
		for i := range list.Items {
			if err := l.storeDocument(list.Items[i].Raw, source, result); err != nil {
				return err
			}
		}
		return nil
	}

	metaObj, err := meta.Accessor(obj)
	if err != nil {
		l.log.V(1).Info("skipping document without object metadata", "source", source, "gvk", gvk.String())
		result.Skipped++
		return nil
	}
	if l.ignored(metaObj.GetName()) {
		l.log.V(2).Info("ignoring object by name prefix", "name", metaObj.GetName())
		result.Skipped++
		return nil
	}

	if err := result.Store.Add(obj); err != nil {
		l.log.V(1).Info("skipping non-RBAC object", "source", source, "gvk", gvk.String(), "name", metaObj.GetName())
		result.Skipped++
	}
	return nil
}

func (l *Loader) ignored(name string) bool {
	for _, prefix := range l.ignorePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
