// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cyrene Contributors

package batch_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/cyrene-tools/cyrene/internal/batch"
	"github.com/cyrene-tools/cyrene/internal/install"
	"github.com/cyrene-tools/cyrene/internal/lockfile"
	"github.com/cyrene-tools/cyrene/internal/reconcile"
	"github.com/cyrene-tools/cyrene/internal/version"
	"github.com/cyrene-tools/cyrene/pkg/errutil"
)

var _ = Describe("Batch operations with Lua plugins", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack()
		s.tool("jq", "1.7.1", "1.6.0")
		s.tool("ripgrep", "14.1.0", "13.0.0")
		s.tool("fd", "10.1.0", "9.0.0")
	})

	Describe("install", func() {
		It("installs and links every target", func() {
			report := s.run(batch.OpInstall, "jq", "ripgrep@13", "fd")
			Expect(report.Err()).NotTo(HaveOccurred())

			Expect(s.binary("jq")).To(ContainSubstring("jq 1.7.1"))
			Expect(s.binary("ripgrep")).To(ContainSubstring("ripgrep 13.0.0"))
			Expect(s.binary("fd")).To(ContainSubstring("fd 10.1.0"))

			lock := s.lock()
			entry, ok := lock.Get("ripgrep")
			Expect(ok).To(BeTrue())
			Expect(entry.Spec).To(Equal(version.MajorSpec("13")))
			entry, ok = lock.Get("jq")
			Expect(ok).To(BeTrue())
			Expect(entry.Spec).To(Equal(version.ExactSpec("1.7.1")))
		})

		It("isolates a failing target from the rest of the batch", func() {
			s.mirror.withdraw(releaseURL("ripgrep", "14.1.0"))

			report := s.run(batch.OpInstall, "jq", "ripgrep", "fd")

			Expect(errutil.Code(report.Err())).To(Equal(batch.CodePartialFailure))
			Expect(report.Outcomes).To(HaveLen(3))
			Expect(report.Outcomes[0].State).To(Equal(batch.StateDone))
			Expect(report.Outcomes[1].State).To(Equal(batch.StateFailed))
			Expect(report.Outcomes[1].FailedAt).To(Equal(batch.StateFetching))
			Expect(report.Outcomes[1].Code).To(Equal(install.CodeFetch))
			Expect(report.Outcomes[2].State).To(Equal(batch.StateDone))

			Expect(s.binary("jq")).NotTo(BeEmpty())
			Expect(s.binary("fd")).NotTo(BeEmpty())
			Expect(s.installer.IsInstalled("ripgrep", "14.1.0")).To(BeFalse())
			Expect(filepath.Join(s.root, "apps", "ripgrep")).NotTo(BeADirectory())

			_, ok := s.lock().Get("ripgrep")
			Expect(ok).To(BeFalse())
		})

		It("is idempotent", func() {
			Expect(s.run(batch.OpInstall, "jq").Err()).NotTo(HaveOccurred())
			report := s.run(batch.OpInstall, "jq")

			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(report.Outcomes[0].Unchanged).To(BeTrue())
			installed, err := s.installer.ListInstalled("jq")
			Expect(err).NotTo(HaveOccurred())
			Expect(installed).To(Equal([]install.Installed{{Version: "1.7.1", Active: true}}))
		})
	})

	Describe("upgrade", func() {
		It("moves to the newest release within the major line and removes the old one", func() {
			Expect(s.run(batch.OpInstall, "ripgrep@13.0.0").Err()).NotTo(HaveOccurred())
			s.tool("ripgrep", "14.1.0", "13.1.0", "13.0.0")

			report := s.run(batch.OpUpgrade, "ripgrep")

			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(report.Outcomes[0].Previous).To(Equal("13.0.0"))
			Expect(report.Outcomes[0].Version).To(Equal("13.1.0"))
			Expect(report.Outcomes[0].Removed).To(ConsistOf("13.0.0"))
			Expect(s.binary("ripgrep")).To(ContainSubstring("ripgrep 13.1.0"))
			Expect(s.installer.IsInstalled("ripgrep", "13.0.0")).To(BeFalse())
		})
	})

	Describe("uninstall", func() {
		It("removes every version, the links and the lockfile entry", func() {
			Expect(s.run(batch.OpInstall, "fd").Err()).NotTo(HaveOccurred())

			report := s.run(batch.OpUninstall, "fd")

			Expect(report.Err()).NotTo(HaveOccurred())
			_, err := os.Lstat(filepath.Join(s.installDir, "fd"))
			Expect(os.IsNotExist(err)).To(BeTrue())
			Expect(filepath.Join(s.root, "apps", "fd")).NotTo(BeADirectory())
			_, ok := s.lock().Get("fd")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("self protection", func() {
		It("refuses to replace the running binary in the install dir", func() {
			s.tool("cyrene", "0.4.0")
			Expect(os.MkdirAll(s.installDir, 0o755)).To(Succeed())
			s.exe = filepath.Join(s.installDir, "cyrene")
			Expect(os.WriteFile(s.exe, []byte("running"), 0o755)).To(Succeed()) //nolint:gosec // test binary

			report := s.run(batch.OpInstall, "cyrene")

			Expect(report.Outcomes[0].State).To(Equal(batch.StateFailed))
			Expect(report.Outcomes[0].FailedAt).To(Equal(batch.StateLinking))
			Expect(report.Outcomes[0].Code).To(Equal(install.CodeLinkSelfProtect))
			Expect(s.binary("cyrene")).To(Equal("running"))
		})
	})

	Describe("lockfile load", func() {
		It("installs locked versions and prunes entries nothing satisfies", func() {
			lock := lockfile.New(filepath.Join(s.root, "project", lockfile.FileName))
			lock.Set(lockfile.Entry{App: "jq", Spec: version.ExactSpec("1.6.0")})
			lock.Set(lockfile.Entry{App: "fd", Spec: version.MajorSpec("9")})
			lock.Set(lockfile.Entry{App: "ripgrep", Spec: version.MajorSpec("12")})
			Expect(lock.Save()).To(Succeed())

			f, err := lockfile.Read(lock.Path())
			Expect(err).NotTo(HaveOccurred())
			report := reconcile.New(s.catalog, s.installer).Load(context.Background(), f)
			Expect(report.Err()).NotTo(HaveOccurred())
			Expect(f.Save()).To(Succeed())

			Expect(s.binary("jq")).To(ContainSubstring("jq 1.6.0"))
			Expect(s.binary("fd")).To(ContainSubstring("fd 9.0.0"))
			Expect(report.Pruned()).To(HaveLen(1))
			Expect(report.Pruned()[0].App).To(Equal("ripgrep"))

			reread, err := lockfile.Read(lock.Path())
			Expect(err).NotTo(HaveOccurred())
			_, ok := reread.Get("ripgrep")
			Expect(ok).To(BeFalse())
			Expect(reread.Len()).To(Equal(2))
		})
	})
})
