//go:build integration

package integration

import (
	"context"
	"os"
	"os/user"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proclean/proclean/internal/domain"
	"github.com/proclean/proclean/internal/infra"
	"github.com/proclean/proclean/internal/usecase"
	"github.com/proclean/proclean/test/fixtures"
)

var _ = Describe("Cleanup executor", func() {
	var (
		tmpDir      string
		ownerUser   string
		table       *infra.ProcessTable
		policyStore *infra.FilePolicyStore
		executor    *usecase.Executor
		tree        *fixtures.SleeperTree
	)

	BeforeEach(func() {
		u, err := user.Current()
		Expect(err).NotTo(HaveOccurred())
		ownerUser = u.Username

		tmpDir, err = os.MkdirTemp("", "proclean-integration-*")
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		table = infra.NewProcessTable(logger)
		policyStore = infra.NewFilePolicyStore(tmpDir)
		executor = usecase.NewExecutor(usecase.DefaultExecutorConfig(), table, table, policyStore, logger)

		tree, err = fixtures.StartSleeperTree()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		tree.Stop()
		os.RemoveAll(tmpDir)
	})

	Describe("recursive cleanup of a real process tree", func() {
		It("kills the whole subtree and reports every process", func() {
			children, err := tree.ChildPIDs()
			Expect(err).NotTo(HaveOccurred())
			Expect(len(children)).To(BeNumerically(">=", 2))

			report, err := executor.Clean(context.Background(), domain.CleanRequest{
				Node:      "integration",
				OwnerUser: ownerUser,
				RootPID:   tree.RootPID(),
				Strategy:  domain.StrategyRecursive,
				BuildID:   "it-1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failures).To(BeEmpty())

			killed := make([]int, 0, len(report.Killed))
			for _, e := range report.Killed {
				killed = append(killed, e.PID)
			}
			Expect(killed).To(ContainElement(tree.RootPID()))
			for _, child := range children {
				Expect(killed).To(ContainElement(child))
			}

			Eventually(tree.Alive, "5s", "100ms").Should(BeFalse())
			for _, child := range children {
				Expect(table.Alive(child)).To(BeFalse())
			}

			lines := report.Render()
			Expect(lines).NotTo(BeEmpty())
			Expect(lines[0]).To(MatchRegexp(`^Killing Process PID = \d+, PPID = \d+, ARGS = .*`))
		})

		It("leaves processes outside the subtree alone", func() {
			other, err := fixtures.StartSleeperTree()
			Expect(err).NotTo(HaveOccurred())
			defer other.Stop()

			_, err = executor.Clean(context.Background(), domain.CleanRequest{
				Node:      "integration",
				OwnerUser: ownerUser,
				RootPID:   tree.RootPID(),
				Strategy:  domain.StrategyRecursive,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(other.Alive()).To(BeTrue())
		})
	})

	Describe("globally switched off", func() {
		It("reports the exact disabled message and touches nothing", func() {
			err := policyStore.Set(domain.Policy{SwitchedOff: true, Username: ownerUser})
			Expect(err).NotTo(HaveOccurred())

			report, err := executor.Clean(context.Background(), domain.CleanRequest{
				Node:      "integration",
				OwnerUser: ownerUser,
				RootPID:   tree.RootPID(),
				Strategy:  domain.StrategyRecursive,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(report.Disabled).To(BeTrue())
			Expect(report.Render()).To(Equal([]string{
				"Process cleanup is globally turned off, contact your proclean administrator to turn it on.",
			}))

			// The tree must be untouched.
			Consistently(tree.Alive, "500ms", "100ms").Should(BeTrue())
			children, err := tree.ChildPIDs()
			Expect(err).NotTo(HaveOccurred())
			Expect(len(children)).To(BeNumerically(">=", 2))
		})
	})

	Describe("report history", func() {
		It("persists reports to the encrypted store", func() {
			keys := infra.NewFileKeyProvider(tmpDir)
			key, err := keys.EnsureKey()
			Expect(err).NotTo(HaveOccurred())

			history, err := infra.NewHistoryStore(tmpDir, key)
			Expect(err).NotTo(HaveOccurred())
			defer history.Close()

			recorded := usecase.NewExecutorWithHistory(usecase.DefaultExecutorConfig(),
				table, table, policyStore, history, zap.NewNop())

			start := time.Now()
			_, err = recorded.Clean(context.Background(), domain.CleanRequest{
				Node:      "integration",
				OwnerUser: ownerUser,
				RootPID:   tree.RootPID(),
				Strategy:  domain.StrategyRecursive,
				BuildID:   "it-history",
			})
			Expect(err).NotTo(HaveOccurred())

			summaries, err := history.Recent(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].BuildID).To(Equal("it-history"))
			Expect(summaries[0].Killed).To(BeNumerically(">=", 3))
			Expect(summaries[0].Started.Unix()).To(BeNumerically(">=", start.Add(-time.Second).Unix()))
		})
	})
})
