package main

import (
	"fmt"

	"github.com/airbusgeo/mosaic/internal/log"
	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	k8sv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	k8smeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	"sigs.k8s.io/yaml"
)

type workflowParams struct {
	jobID   string
	image   string
	cpu     string
	memory  string
	scratch string
	retries int
}

func int32Ptr(val int32) *int32 {
	a := val
	return &a
}

func intOrStringPtr(val int) *intstr.IntOrString {
	a := intstr.FromInt(val)
	return &a
}

func resourcePtr(val string) *resource.Quantity {
	res := resource.MustParse(val)
	return &res
}

// checkMergeArgs validates args against the merge command flags and returns
// the output they designate
func checkMergeArgs(args []string) (string, error) {
	mc := newMergeCommand(viper.New())
	if err := mc.Flags().Parse(args); err != nil {
		return "", fmt.Errorf("invalid merge arguments: %w", err)
	}
	optfile, _ := mc.Flags().GetString("optfile")
	if len(mc.Flags().Args()) == 0 && optfile == "" {
		return "", fmt.Errorf("no input files")
	}
	return mc.Flags().GetString("output")
}

// mergeWorkflow returns an argo workflow running command in a single
// container
func mergeWorkflow(command []string, p workflowParams) (*wfv1.Workflow, error) {
	for _, q := range []string{p.cpu, p.memory, p.scratch} {
		if _, err := resource.ParseQuantity(q); err != nil {
			return nil, fmt.Errorf("invalid quantity %q: %w", q, err)
		}
	}
	wf := &wfv1.Workflow{
		ObjectMeta: k8smeta.ObjectMeta{
			GenerateName: "mosaic-",
			Labels: map[string]string{
				"mosaic/job-id": p.jobID,
			},
		},
		TypeMeta: k8smeta.TypeMeta{
			APIVersion: "argoproj.io/v1alpha1",
			Kind:       "Workflow",
		},
		Spec: wfv1.WorkflowSpec{
			TTLStrategy: &wfv1.TTLStrategy{
				SecondsAfterSuccess: int32Ptr(3600),
			},
			Entrypoint: "mosaic",
			TemplateDefaults: &wfv1.Template{
				Volumes: []k8sv1.Volume{
					{
						Name: "scratch",
						VolumeSource: k8sv1.VolumeSource{
							EmptyDir: &k8sv1.EmptyDirVolumeSource{
								SizeLimit: resourcePtr(p.scratch),
							},
						},
					},
				},
				Container: &k8sv1.Container{
					ImagePullPolicy: k8sv1.PullAlways,
					Resources: k8sv1.ResourceRequirements{
						Requests: k8sv1.ResourceList{
							k8sv1.ResourceCPU:    resource.MustParse(p.cpu),
							k8sv1.ResourceMemory: resource.MustParse(p.memory),
						},
					},
					Env: []k8sv1.EnvVar{
						{Name: "TMPDIR", Value: "/scratch"},
					},
					WorkingDir: "/scratch",
					VolumeMounts: []k8sv1.VolumeMount{
						{
							Name:      "scratch",
							MountPath: "/scratch",
						},
					},
				},
			},
			Templates: []wfv1.Template{
				{Name: "mosaic"},
			},
		},
	}
	step := wfv1.WorkflowStep{
		Name: "merge",
		Inline: &wfv1.Template{
			RetryStrategy: &wfv1.RetryStrategy{
				Limit: intOrStringPtr(p.retries),
			},
			Metadata: wfv1.Metadata{
				Annotations: map[string]string{
					"cluster-autoscaler.kubernetes.io/safe-to-evict": "false",
				},
			},
			Container: &k8sv1.Container{
				Name:    "merge",
				Image:   p.image,
				Command: command,
			},
		},
	}
	wf.Spec.Templates[0].Steps = append(wf.Spec.Templates[0].Steps,
		wfv1.ParallelSteps{
			Steps: []wfv1.WorkflowStep{step},
		})
	return wf, nil
}

func newWorkflowCommand() *cobra.Command {
	var shell bool
	p := workflowParams{}
	cmd := &cobra.Command{
		Use:   "workflow [flags] -- [merge flags] input...",
		Short: "print an argo workflow (or shell command) running a merge",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := checkMergeArgs(args)
			if err != nil {
				return err
			}
			command := append([]string{"mosaic", "merge"}, args...)
			if shell {
				fmt.Fprintln(cmd.OutOrStdout(), shellescape.QuoteCommand(command))
				return nil
			}
			if !isGCS(output) {
				log.Logger(cmd.Context()).Warn("output is not on gs://, it will be lost with the container",
					zap.String("output", output))
			}
			if p.jobID == "" {
				p.jobID = uuid.New().String()
			}
			wf, err := mergeWorkflow(command, p)
			if err != nil {
				return err
			}
			yb, err := yaml.Marshal(wf)
			if err != nil {
				return fmt.Errorf("marshal workflow: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(yb))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&shell, "shell", false, "output shell command instead of argo workflow")
	flags.StringVar(&p.image, "dockerImage", defaultImage, "docker image for workers")
	flags.StringVar(&p.jobID, "jobID", "", "(advanced) use predefined job identifier")
	flags.StringVar(&p.cpu, "cpu", "2", "requested cpu")
	flags.StringVar(&p.memory, "memory", "4G", "requested memory")
	flags.StringVar(&p.scratch, "scratch", "20G", "size of the scratch volume holding temporary outputs")
	flags.IntVar(&p.retries, "retries", 5, "number of retries")
	return cmd
}
