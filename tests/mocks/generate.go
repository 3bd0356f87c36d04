package mocks

//go:generate mockgen -destination=sandbox_executor_mock.go -package=mocks github.com/mfbutner/pl-autograders/internal/sandbox Executor,PrivilegeSeparator
//go:generate mockgen -destination=docker_client_mock.go -package=mocks github.com/mfbutner/pl-autograders/internal/docker DockerClient
//go:generate mockgen -destination=channel_mock.go -package=mocks github.com/mfbutner/pl-autograders/internal/rabbitmq/channel Channel
//go:generate mockgen -destination=stages_mock.go -package=mocks github.com/mfbutner/pl-autograders/internal/pipeline Packager,Discoverer,Compiler,TestExecutor,Notifier
//go:generate mockgen -destination=verifier_mock.go -package=mocks github.com/mfbutner/pl-autograders/internal/stages/verifier Verifier
