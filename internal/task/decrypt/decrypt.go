// Package decrypt implements the file decryptor task (spec §4.8, C10) in
// its two modes: public-key + protected passphrase (OpenPGP) and
// passphrase-only (a gpg subprocess). Grounded on original_source's
// pgp_file_decryptor.py (base64-decode the protected passphrase, unlock
// the private key, decrypt, write plaintext beside the input) and
// gpg_file_decryptor.py (shell out to gpg with a non-echoing passphrase
// argument, classify any failure as "not an encrypted file", optional
// process-holding completeness check polled at a 3s interval, optional
// post-decrypt cleanup).
//
// The OpenPGP mode uses github.com/ProtonMail/go-crypto/openpgp in place
// of PGPy. The completeness check is reimplemented over
// github.com/shirou/gopsutil/v3/process's OpenFiles() in place of the
// original's `fuser` subprocess, since gopsutil is already a pack
// dependency and gives the same answer without another subprocess launch.
package decrypt

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	openpgp "github.com/ProtonMail/go-crypto/openpgp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/shellrunner"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// completenessCheckInterval is the poll interval for the process-holding
// check (spec §4.8, "at a 3 s interval").
const completenessCheckInterval = 3 * time.Second

// Params is the decryptor task's per-job configuration.
type Params struct {
	SourceSystemName       string
	SourceFileLocation     string // glob pattern; empty means use the forwarded file list
	FileNameSuffix         string // default "_decrypted"
	CleanupFlag            bool
	FileCompleteCheckFlag  bool
}

// Task decrypts files using whichever mode the resolved KeyProfile implies.
type Task struct {
	store *settings.Store
}

// New returns a decrypt Task bound to store for key profile resolution.
func New(store *settings.Store) *Task {
	return &Task{store: store}
}

// Run executes the decryptor algorithm (spec §4.8), returning plaintext
// FileDescriptors.
func (t *Task) Run(ctx context.Context, params Params, forwarded []types.FileDescriptor) ([]types.FileDescriptor, error) {
	suffix := params.FileNameSuffix
	if suffix == "" {
		suffix = "_decrypted"
	}

	inputs, err := resolveInputs(params, forwarded)
	if err != nil {
		return nil, err
	}

	pgpProfile, pgpErr := t.store.PGPKey(params.SourceSystemName)
	if pgpErr == nil {
		return decryptPublicKey(pgpProfile, inputs, suffix, params.CleanupFlag)
	}

	gpgProfile, gpgErr := t.store.GPGPassphrase(params.SourceSystemName)
	if gpgErr == nil {
		return decryptPassphraseOnly(ctx, gpgProfile, inputs, suffix, params.CleanupFlag, params.FileCompleteCheckFlag)
	}

	return nil, pipelineerrors.MissingSecret("decrypt", fmt.Sprintf(
		"no PGP or GPG key profile for source system %q", params.SourceSystemName))
}

func resolveInputs(params Params, forwarded []types.FileDescriptor) ([]string, error) {
	if params.SourceFileLocation != "" {
		matches, err := filepath.Glob(params.SourceFileLocation)
		if err != nil {
			return nil, pipelineerrors.Filesystem("decrypt", "glob_source", err.Error())
		}
		return matches, nil
	}
	paths := make([]string, len(forwarded))
	for i, f := range forwarded {
		paths[i] = f.Location
	}
	return paths, nil
}

func filterExisting(paths []string) []string {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	return existing
}

func decryptedPath(inputPath, suffix string) string {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+suffix+ext)
}

// decryptPublicKey implements the PGP mode (spec §4.8).
func decryptPublicKey(profile types.KeyProfile, inputs []string, suffix string, cleanup bool) ([]types.FileDescriptor, error) {
	passphraseBytes, err := base64.StdEncoding.DecodeString(profile.EncryptedPassphrase)
	if err != nil {
		return nil, pipelineerrors.DecryptBad("decode_passphrase", err.Error())
	}
	passphrase := strings.TrimSpace(string(passphraseBytes))

	keyFile, err := os.Open(profile.PrivateKeyPath)
	if err != nil {
		return nil, pipelineerrors.Filesystem("decrypt", "open_key_file", err.Error())
	}
	defer keyFile.Close()

	entityList, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		keyFile.Seek(0, io.SeekStart)
		entityList, err = openpgp.ReadKeyRing(keyFile)
	}
	if err != nil {
		return nil, pipelineerrors.DecryptBad("read_key_ring", err.Error())
	}

	for _, entity := range entityList {
		if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
			if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, pipelineerrors.DecryptBad("unlock_private_key", err.Error())
			}
		}
		for _, subkey := range entity.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				subkey.PrivateKey.Decrypt([]byte(passphrase))
			}
		}
	}

	var descriptors []types.FileDescriptor
	for _, inputPath := range inputs {
		f, err := os.Open(inputPath)
		if err != nil {
			return descriptors, pipelineerrors.Filesystem("decrypt", "open_encrypted_file", err.Error())
		}

		message, err := openpgp.ReadMessage(f, entityList, nil, nil)
		if err != nil {
			f.Close()
			return descriptors, pipelineerrors.DecryptBad("read_message",
				fmt.Sprintf("file %s is not a PGP encrypted file: %v", inputPath, err))
		}
		plaintext, err := io.ReadAll(message.UnverifiedBody)
		f.Close()
		if err != nil {
			return descriptors, pipelineerrors.DecryptBad("decrypt_message", err.Error())
		}

		outPath := decryptedPath(inputPath, suffix)
		if err := os.WriteFile(outPath, plaintext, 0o644); err != nil {
			return descriptors, pipelineerrors.Filesystem("decrypt", "write_plaintext", err.Error())
		}

		info, statErr := os.Stat(outPath)
		if statErr != nil {
			return descriptors, pipelineerrors.Filesystem("decrypt", "stat_output", statErr.Error())
		}
		descriptors = append(descriptors, types.FileDescriptor{Location: outPath, Size: info.Size(), CreatedAt: time.Now()})

		if cleanup {
			os.Remove(inputPath)
		}
	}
	return descriptors, nil
}

// decryptPassphraseOnly implements the GPG mode (spec §4.8), threading the
// passphrase via a loopback-pinentry, non-echoing argument exactly as
// original_source's COMMAND_GPG_DECRYPT_FILE does. The optional
// process-holding completeness check (spec §4.8's passphrase-only bullet)
// applies only here — the public-key mode has no equivalent in
// pgp_file_decryptor.py.
func decryptPassphraseOnly(ctx context.Context, profile types.KeyProfile, inputs []string, suffix string, cleanup, waitForComplete bool) ([]types.FileDescriptor, error) {
	if waitForComplete && len(inputs) > 0 {
		if existing := filterExisting(inputs); len(existing) > 0 {
			waitUntilAllFilesComplete(existing)
		}
	}

	var descriptors []types.FileDescriptor
	for _, inputPath := range inputs {
		outPath := decryptedPath(inputPath, suffix)

		result, err := shellrunner.Run(ctx, "gpg",
			"--batch", "--yes", "--pinentry-mode", "loopback",
			"--passphrase", profile.Passphrase,
			"-d", "-o", outPath, inputPath,
		)
		if err != nil || result.ExitCode != 0 {
			return descriptors, pipelineerrors.DecryptBad("decrypt_gpg_file",
				fmt.Sprintf("file %s is not a GPG encrypted file", inputPath))
		}

		info, statErr := os.Stat(outPath)
		if statErr != nil {
			return descriptors, pipelineerrors.Filesystem("decrypt", "stat_output", statErr.Error())
		}
		descriptors = append(descriptors, types.FileDescriptor{Location: outPath, Size: info.Size(), CreatedAt: time.Now()})

		if cleanup {
			os.Remove(inputPath)
		}
	}
	return descriptors, nil
}

// waitUntilAllFilesComplete polls every path for another OS process
// holding it open, re-checking only the files still busy each round,
// until none remain (spec §4.8).
func waitUntilAllFilesComplete(paths []string) {
	remaining := paths
	for len(remaining) > 0 {
		var busy []string
		for _, p := range remaining {
			if isBusy(p) {
				busy = append(busy, p)
			}
		}
		remaining = busy
		if len(remaining) > 0 {
			time.Sleep(completenessCheckInterval)
		}
	}
}

// isBusy reports whether any OS process currently holds path open,
// enumerating all processes' open file descriptors via gopsutil.
func isBusy(path string) bool {
	procs, err := process.Processes()
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, p := range procs {
		openFiles, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, of := range openFiles {
			if of.Path == abs || of.Path == path {
				return true
			}
		}
	}
	return false
}
