package awsauth_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/authzkit/kuberbac/pkg/awsauth"
)

func configMap(data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Namespace: awsauth.Namespace, Name: awsauth.Name},
		Data:       data,
	}
}

var _ = Describe("Mapper", func() {
	var mapper *awsauth.Mapper

	BeforeEach(func() {
		var err error
		mapper, err = awsauth.NewMapper(configMap(map[string]string{
			"mapRoles": `
- rolearn: arn:aws:iam::111122223333:role/eks-admin
  username: admin:{{SessionName}}
  groups:
  - system:masters
- rolearn: arn:aws:iam::111122223333:role/eks-node-group
  username: system:node:{{EC2PrivateDNSName}}
  groups:
  - system:bootstrappers
  - system:nodes
`,
			"mapUsers": `
- userarn: arn:aws:iam::111122223333:user/rbac-user
  username: rbac-user
  groups:
  - dev-team
`,
			"mapAccounts": `
- "444455556666"
`,
		}))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("role mappings", func() {
		It("maps an IAM role ARN", func() {
			id, err := mapper.Map("arn:aws:iam::111122223333:role/eks-node-group")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Groups).To(ConsistOf("system:bootstrappers", "system:nodes"))
		})

		It("canonicalizes STS assumed-role ARNs and expands the session name", func() {
			id, err := mapper.Map("arn:aws:sts::111122223333:assumed-role/eks-admin/jane.doe")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Username).To(Equal("admin:jane-doe"))
			Expect(id.Groups).To(ConsistOf("system:masters"))
		})

		It("strips role paths the way EKS does", func() {
			pathMapper, err := awsauth.NewMapper(configMap(map[string]string{
				"mapRoles": `
- rolearn: arn:aws:iam::111122223333:role/deployer
  username: deployer
`,
			}))
			Expect(err).NotTo(HaveOccurred())

			id, err := pathMapper.Map("arn:aws:iam::111122223333:role/service/ci/deployer")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Username).To(Equal("deployer"))
		})

		It("indexes path-carrying rolearn entries under the path-free ARN", func() {
			pathMapper, err := awsauth.NewMapper(configMap(map[string]string{
				"mapRoles": `
- rolearn: arn:aws:iam::111122223333:role/service/ci/deployer
  username: deployer
`,
			}))
			Expect(err).NotTo(HaveOccurred())

			id, err := pathMapper.Map("arn:aws:iam::111122223333:role/deployer")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Username).To(Equal("deployer"))
		})

		It("rejects a malformed rolearn entry", func() {
			_, err := awsauth.NewMapper(configMap(map[string]string{
				"mapRoles": `
- rolearn: not-an-arn
  username: broken
`,
			}))
			Expect(err).To(HaveOccurred())
		})

		It("matches ARNs case-insensitively", func() {
			id, err := mapper.Map("arn:aws:iam::111122223333:role/EKS-Admin")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Groups).To(ConsistOf("system:masters"))
		})
	})

	Describe("user mappings", func() {
		It("maps an IAM user ARN", func() {
			id, err := mapper.Map("arn:aws:iam::111122223333:user/rbac-user")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Username).To(Equal("rbac-user"))
			Expect(id.Groups).To(ConsistOf("dev-team"))
		})
	})

	Describe("account mappings", func() {
		It("admits any identity in a mapped account with no groups", func() {
			id, err := mapper.Map("arn:aws:iam::444455556666:user/someone")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Username).To(Equal("arn:aws:iam::444455556666:user/someone"))
			Expect(id.Groups).To(BeEmpty())
		})

		It("prefers explicit mappings over account mappings", func() {
			combined, err := awsauth.NewMapper(configMap(map[string]string{
				"mapUsers": `
- userarn: arn:aws:iam::444455556666:user/alice
  username: alice
  groups: [dev-team]
`,
				"mapAccounts": `["444455556666"]`,
			}))
			Expect(err).NotTo(HaveOccurred())

			id, err := combined.Map("arn:aws:iam::444455556666:user/alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Username).To(Equal("alice"))
		})
	})

	Describe("failure modes", func() {
		It("returns ErrNotMapped for unmapped identities", func() {
			_, err := mapper.Map("arn:aws:iam::999988887777:user/stranger")
			Expect(err).To(MatchError(awsauth.ErrNotMapped))
		})

		It("rejects malformed ARNs", func() {
			_, err := mapper.Map("not-an-arn")
			Expect(err).To(HaveOccurred())
		})

		It("rejects non-IAM services", func() {
			_, err := mapper.Map("arn:aws:s3:::some-bucket/key")
			Expect(err).To(HaveOccurred())
		})

		It("rejects unparsable mapRoles data", func() {
			_, err := awsauth.NewMapper(configMap(map[string]string{
				"mapRoles": "not: [valid",
			}))
			Expect(err).To(HaveOccurred())
		})
	})
})
