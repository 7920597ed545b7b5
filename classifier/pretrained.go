package classifier

import (
	"io"
	"os"
	"path/filepath"

	"github.com/Noofbiz/finetune/config"
	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/gomlx/onnx-gomlx/onnx/parser"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TokenizerFiles are copied next to the trained model when the hub repo
// has them.
var TokenizerFiles = []string{
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.txt",
	"config.json",
}

// Pretrained holds the downloaded encoder and its tokenizer.
type Pretrained struct {
	Name      string
	Repo      *hub.Repo
	Tokenizer tokenizers.Tokenizer
	Model     onnx.Model
}

// FetchPretrained downloads the tokenizer and the ONNX export of
// cfg.PretrainedName. HF_TOKEN is used for gated repositories.
func FetchPretrained(cfg config.ModelConfig, progress bool) (*Pretrained, error) {
	repo := hub.New(cfg.PretrainedName).
		WithAuth(os.Getenv("HF_TOKEN")).
		WithProgressBar(progress)
	if cfg.CacheDir != "" {
		repo = repo.WithCacheDir(cfg.CacheDir)
	}
	if err := repo.DownloadInfo(false); err != nil {
		return nil, errors.Wrapf(err, "fetching info of pretrained model %q", cfg.PretrainedName)
	}

	tok, err := tokenizers.New(repo)
	if err != nil {
		return nil, errors.Wrapf(err, "loading tokenizer of %q", cfg.PretrainedName)
	}

	onnxPath, err := repo.DownloadFile(cfg.ONNXFile)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s from %q (the model needs an ONNX export)", cfg.ONNXFile, cfg.PretrainedName)
	}
	model, err := parser.ParseFile(onnxPath)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", onnxPath)
	}
	klog.V(1).Infof("Loaded %s from %q", cfg.ONNXFile, cfg.PretrainedName)

	return &Pretrained{
		Name:      cfg.PretrainedName,
		Repo:      repo,
		Tokenizer: tok,
		Model:     model,
	}, nil
}

// SaveTokenizer copies the tokenizer files of the pretrained repo into dir
// and returns the names copied. Files the repo doesn't have are skipped.
func (p *Pretrained) SaveTokenizer(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	var copied []string
	for _, name := range TokenizerFiles {
		src, err := p.Repo.DownloadFile(name)
		if err != nil {
			klog.V(1).Infof("Skipping %s: %v", name, err)
			continue
		}
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			return copied, err
		}
		copied = append(copied, name)
	}
	if len(copied) == 0 {
		klog.Warningf("No tokenizer files found in %q", p.Name)
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	return errors.Wrapf(out.Close(), "close %s", dst)
}
