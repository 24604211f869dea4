// Package keyfile implements the key-file generator task (spec §4.9,
// C11): read fixed-width records per a declared field mapping, extract
// ciphertext key(s) (header section: first row's key cell; body section:
// distinct keys across all rows), call the external HSM key server for
// each, re-wrap under a per-date SHA-256 key with AES-256 in a
// deterministic mode, and emit a key-mapping file.
//
// Grounded on original_source's hsm_encryption_key_file_generator.py:
// FixedLengthFileReader's offset/size/type field mapping (offsets are
// 1-based in the source format), get_key_by_hsm (a `java -cp ...`
// subprocess invocation), hash_sha256, and ccms_encryption (AES-256-ECB,
// block-by-block, hex-encoded output — the "deterministic block-cipher
// mode" spec §4.9 leaves as an open question is resolved to ECB here
// because that is what the original production code actually does).
package keyfile

import (
	"bufio"
	"context"
	"crypto/aes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/shellrunner"
	"github.com/mdp-platform/extraction-pipeline/internal/writer"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// Section distinguishes where the ciphertext key(s) live in the fixed-width
// payload.
type Section string

const (
	SectionHeader Section = "header"
	SectionBody   Section = "body"
)

// FieldMapping describes one fixed-width field (1-based offset, per the
// original KBMF format convention).
type FieldMapping struct {
	Name   string
	Offset int
	Size   int
}

// Params is the key-file generator's per-job configuration.
type Params struct {
	Section       Section
	Fields        []FieldMapping
	KeyColumn     string // the field holding the ciphertext key
	HeaderColumns []string
	FullFileName  string
	FileExtension string // default "key"
	WritePolicy   writer.WritePolicy
}

// Task reads fixed-width source files, calls the HSM key server, and
// writes the key-mapping file.
type Task struct {
	store *settings.Store
}

// New returns a keyfile Task bound to store for HSM settings.
func New(store *settings.Store) *Task {
	return &Task{store: store}
}

// Run executes the key-file generator algorithm (spec §4.9).
func (t *Task) Run(ctx context.Context, params Params, posDt string, sourceFiles []types.FileDescriptor) ([]types.FileDescriptor, error) {
	keyFieldIndex := -1
	for i, f := range params.Fields {
		if f.Name == params.KeyColumn {
			keyFieldIndex = i
			break
		}
	}
	if keyFieldIndex == -1 {
		return nil, pipelineerrors.Config("keyfile", "key_column not found in field mapping")
	}

	var ciphertextKeys []string
	switch params.Section {
	case SectionHeader:
		key, err := firstRowKey(sourceFiles, params.Fields[keyFieldIndex])
		if err != nil {
			return nil, err
		}
		if key != "" {
			ciphertextKeys = []string{key}
		}
	case SectionBody:
		keys, err := distinctColumnKeys(sourceFiles, params.Fields[keyFieldIndex])
		if err != nil {
			return nil, err
		}
		ciphertextKeys = keys
	default:
		return nil, pipelineerrors.Config("keyfile", "unknown section: "+string(params.Section))
	}

	hsm, err := t.store.HSM()
	if err != nil {
		return nil, err
	}

	wrapKey := wrappingKey(posDt)
	currentDate := time.Now().Format("2006-01-02")

	var records []writer.Record
	for _, ciphertext := range ciphertextKeys {
		clearKey, err := callHSM(ctx, hsm, ciphertext)
		if err != nil {
			return nil, err
		}
		encrypted, err := encryptAESECB(wrapKey, clearKey)
		if err != nil {
			return nil, err
		}

		record := writer.Record{
			"date_of_key":           posDt,
			"date_of_generated_key": currentDate,
			"encrypted_key":         encrypted,
		}
		if params.Section == SectionBody {
			record["hsm_key"] = ciphertext
		}
		if len(sourceFiles) > 0 {
			record["data_file_name"] = sourceFiles[0].Location
		}
		records = append(records, record)
	}

	outputPath := fmt.Sprintf("%s.%s", params.FullFileName, orDefault(params.FileExtension, "key"))
	if err := writer.WriteDelimited(outputPath, params.HeaderColumns, records, params.WritePolicy); err != nil {
		return nil, err
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		return nil, pipelineerrors.Filesystem("keyfile", "stat_output", statErr.Error())
	}

	descriptors := append([]types.FileDescriptor{}, sourceFiles...)
	descriptors = append(descriptors, types.FileDescriptor{
		Location:  outputPath,
		Size:      info.Size(),
		CreatedAt: time.Now(),
	})
	return descriptors, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// wrappingKey derives the per-date symmetric key as SHA-256(pos_dt) (spec
// §4.9 step 2). original_source treats the hex digest as a "hex_string"
// key and unhexlify()s it before handing it to AES — equivalently, the
// raw 32-byte digest is the AES-256 key material.
func wrappingKey(posDt string) []byte {
	sum := sha256.Sum256([]byte(posDt))
	return sum[:]
}

// encryptAESECB encrypts clearKey under wrapKey with AES-256 in ECB mode,
// block by block, returning the hex-encoded ciphertext (spec §4.9 step 3).
func encryptAESECB(wrapKey []byte, clearKey string) (string, error) {
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return "", pipelineerrors.KeyServer("build_cipher", err.Error())
	}

	plaintext := []byte(clearKey)
	padded := pkcs7Pad(plaintext, aes.BlockSize)

	ciphertext := make([]byte, len(padded))
	for offset := 0; offset < len(padded); offset += aes.BlockSize {
		block.Encrypt(ciphertext[offset:offset+aes.BlockSize], padded[offset:offset+aes.BlockSize])
	}
	return hex.EncodeToString(ciphertext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	if padLen == 0 {
		padLen = blockSize
	}
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

// callHSM invokes the external key-server agent as a Java subprocess and
// returns its stdout, the cleartext key (spec §4.9 step 1).
func callHSM(ctx context.Context, hsm settings.HSMSettings, ciphertext string) (string, error) {
	result, err := shellrunner.Run(ctx, "java",
		"-cp", hsm.JavaClassPath, hsm.JavaClassName,
		ciphertext, hsm.Host, hsm.Port, hsm.DPK,
	)
	if err != nil {
		return "", pipelineerrors.KeyServer("invoke", err.Error())
	}
	if result.ExitCode != 0 {
		return "", pipelineerrors.KeyServer("invoke", "HSM service error: "+result.Stderr)
	}
	return strings.TrimSpace(result.Stdout), nil
}

// firstRowKey reads the key field from the first data row only (header
// section variant, spec §4.9).
func firstRowKey(files []types.FileDescriptor, field FieldMapping) (string, error) {
	for _, f := range files {
		line, ok, err := firstNonBlankLine(f.Location)
		if err != nil {
			return "", err
		}
		if ok {
			return extractField(line, field), nil
		}
	}
	return "", nil
}

// distinctColumnKeys reads the key field across every row in every file,
// returning the distinct values in first-seen order (body section
// variant, spec §4.9).
func distinctColumnKeys(files []types.FileDescriptor, field FieldMapping) ([]string, error) {
	seen := map[string]bool{}
	var keys []string
	for _, f := range files {
		lines, err := readLines(f.Location)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			value := extractField(line, field)
			if !seen[value] {
				seen[value] = true
				keys = append(keys, value)
			}
		}
	}
	return keys, nil
}

// extractField slices a fixed-width record using a 1-based offset, per
// the KBMF format convention the field mapping declares.
func extractField(line string, field FieldMapping) string {
	start := field.Offset - 1
	end := start + field.Size
	if start < 0 {
		start = 0
	}
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start:end])
}

func firstNonBlankLine(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, pipelineerrors.Filesystem("keyfile", "open_source", err.Error())
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			return line, true, nil
		}
	}
	return "", false, scanner.Err()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pipelineerrors.Filesystem("keyfile", "open_source", err.Error())
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
