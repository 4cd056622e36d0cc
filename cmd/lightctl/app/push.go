package app

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/JonathanBrouwer/lightbringer/internal/firmware"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
)

func newPushCommand() *cobra.Command {
	s3 := options.NewS3Options()
	var presign time.Duration

	cmd := &cobra.Command{
		Use:   "push IMAGE KEY",
		Short: "Publish an update image to the firmware bucket",
		Long: `push uploads IMAGE under KEY so devices can install it with an MQTT
"object" command. With --presign it also prints a download URL usable in a
"url" command or with curl against POST /ota.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !s3.Enabled() {
				return fmt.Errorf("--s3.endpoint is required")
			}
			if err := utilerrors.NewAggregate(s3.Validate()); err != nil {
				return err
			}
			repo, err := firmware.NewRepository(s3)
			if err != nil {
				return err
			}
			if err := repo.CheckBucket(cmd.Context()); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			if err := repo.Upload(cmd.Context(), args[1], f, st.Size()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s to %s/%s (%d bytes)\n", args[0], s3.BucketName, args[1], st.Size())

			if presign > 0 {
				url, err := repo.PresignedURL(cmd.Context(), args[1], presign)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
			}
			return nil
		},
	}
	s3.AddFlags(cmd.Flags())
	cmd.Flags().DurationVar(&presign, "presign", 0, "Also print a presigned download URL valid for this long.")
	return cmd
}
