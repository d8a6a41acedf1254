package conversation

import (
	"fmt"
	"time"
)

// Links sent to contacts.
const (
	SchedulingURL  = "https://online.maapp.com.br/raquelprustnail"
	InspirationURL = "https://abrir.link/SCckV"
	PortfolioURL   = "https://surl.li/dacdhm"
)

// DefaultDisplayName is used to greet known contacts whose name is unknown.
const DefaultDisplayName = "Cliente"

// Greeting returns the time-of-day salutation for the given local time.
func Greeting(now time.Time) string {
	h := now.Hour()
	switch {
	case h >= 5 && h < 12:
		return "Bom dia"
	case h >= 12 && h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

func mainMenuMessage(greeting, name string) string {
	return fmt.Sprintf("%s, %s!\n\n"+
		"Seja bem-vinda! Sou a assistente virtual da Raquel!\n\n"+
		"*Como posso te ajudar hoje?*\n\n"+
		"*Digite o número da opção:*\n\n"+
		"1 - Falar com a Raquel\n\n"+
		"2 - Agendar/Cancelar/Alterar horário ou consultar seu próximo agendamento\n\n"+
		"3 - Ver tabela de valores\n\n"+
		"4 - Solicitar reparo de unha\n\n"+
		"5 - Não sabe oq fazer na próxima manutenção? Eu te ajudo!\n\n"+
		"Responda com o número da sua escolha.", greeting, name)
}

func registrationWelcomeMessage(greeting string) string {
	return greeting + "!\n\n" +
		"Seja bem-vinda! Sou a assistente virtual da Raquel!\n\n" +
		"Vejo que é sua primeira vez por aqui. Que alegria ter você!\n\n" +
		"*Vou estar fazendo algumas perguntas para agilizar o seu atendimento.*\n\n" +
		"*Qual é o seu nome completo?*\n\n" +
		"Digite seu nome para continuar."
}

const msgReturnedToMenu = "Tudo bem! Voltando ao menu inicial."

const msgHandoff = "Falar com a Raquel\n\n" +
	"Vou transferir você para a Raquel. Ela entrará em contato o mais breve possível!\n\n" +
	"Obrigada por entrar em contato!"

const msgSchedulingLink = "Agendamento/Cancelamento/Alteração\n\n" +
	"Para agendar, cancelar ou alterar seu horário, acesse nossa plataforma:\n\n" +
	SchedulingURL + "\n\n" +
	"Lá você pode fazer tudo sozinha de forma rápida e fácil!\n\n" +
	"Qualquer dúvida, é só chamar!"

const msgPriceList = "Tabela de Valores\n\n" +
	"Serviços:\n\n" +
	"Aplicação banho de gel - R$ 230,00\n\n" +
	"Esmaltação em gel (a partir de) - R$ 90,00\n\n" +
	"Alongamento de unhas - R$ 260,00\n\n" +
	"Manutenção de alongamento e banho de gel (a partir de) - R$ 150,00\n\n" +
	"Reparo de unha (a partir de) - R$ 10,00\n\n" +
	"Aplicação de blindagem - R$ 180,00\n\n" +
	"Manutenção de blindagem (a partir de) - R$ 120,00\n\n" +
	"Esmaltação pés - R$ 100,00\n\n" +
	"Os valores podem variar de acordo com o período de manutenção e se há necessidade de reparos."

const msgSchedulePrompt = "Vamos agendar o seu horário?\n\nResponda *Sim* ou *Não*."

const msgRepairRequest = "Reparo de Unha\n\n" +
	"Por favor, envie uma foto da unha para que eu possa encaminhar para a Raquel avaliar.\n\n" +
	"Aguardo a foto!\n\n" +
	"Digite 0 ou voltar para retornar ao menu anterior."

const msgInspiration = "Inspiração para Unhas\n\n" +
	"Não sabe oq fazer na próxima manutenção? Eu te ajudo!\n\n" +
	"Acesse nosso catálogo completo e confira diversas ideias e referências:\n\n" +
	InspirationURL + "\n\n" +
	"Se precisar de mais ajuda, a Raquel está à disposição para te ajudar a escolher!\n\n" +
	"Quer conversar com ela? Responda *Sim* ou *Não*."

const msgInvalidOption = "Opção inválida. Por favor, digite um número de 1 a 5 para escolher uma opção do menu, ou 0 para voltar."

const msgScheduleConfirmed = "Perfeito! Vou redirecionar você para nossa plataforma de agendamento:\n\n" +
	SchedulingURL + "\n\n" +
	"Lá você poderá escolher o melhor horário para você!\n\n" +
	"Qualquer dúvida, é só chamar!"

const msgScheduleDeclined = "Tudo bem! Qualquer dúvida ou quando estiver pronta para agendar, é só me chamar novamente!\n\n" +
	"Estou sempre por aqui para ajudar!"

const msgScheduleUnclear = "Desculpe, não entendi sua resposta. Por favor, digite *Sim* ou *Não*.\n\n" +
	"Você gostaria de agendar seu horário?"

const msgRepairPhotoReceived = "Foto recebida! Vou encaminhar para a Raquel e ela entrará em contato para avaliar o reparo. Obrigada!"

const msgRepairPhotoMissing = "Por favor, envie a foto da unha que precisa de reparo.\n\n" +
	"Digite 0 ou voltar para retornar ao menu anterior."

const msgInspirationHandoff = "Perfeito! Vou transferir você para a Raquel. Ela vai adorar te ajudar a escolher o melhor design!\n\n" +
	"Ela entrará em contato em breve. Obrigada!"

const msgInspirationDeclined = "Tudo bem! Se mudar de ideia ou precisar de ajuda, é só me chamar novamente!\n\n" +
	"Estou sempre por aqui!"

const msgInspirationUnclear = "Desculpe, não entendi sua resposta. Por favor, digite *Sim* ou *Não*.\n\n" +
	"Você quer conversar com a Raquel sobre inspirações?"

func askServiceMessage(name string) string {
	return fmt.Sprintf("Prazer em te conhecer, %s!\n\n"+
		"*Qual procedimento você tem interesse?*\n\n"+
		"Exemplos: Alongamento, Manutenção, Esmaltação em gel, Banho de gel, Blindagem, Esmaltação pés, etc.\n\n"+
		"Digite 0 ou voltar para retornar ao menu inicial.", name)
}

const msgAskHistory = "Perfeito!\n\n" +
	"*Você já teve outras experiências com manutenção ou alongamento de unhas com outras profissionais?*\n\n" +
	"Responda: Sim ou Não\n\n" +
	"Digite 0 ou voltar para retornar ao menu inicial."

const msgAskPhoto = "Entendi!\n\n" +
	"*Por favor, envie uma foto das suas unhas no momento atual.*\n\n" +
	"Isso ajudará a Raquel a avaliar melhor o serviço que você precisa!\n\n" +
	"Digite 0 ou voltar para retornar ao menu inicial."

const msgRegistrationPhotoMissing = "Por favor, envie a foto das suas unhas para finalizarmos.\n\n" +
	"Digite 0 ou voltar para retornar ao menu inicial."

func registrationDoneMessage(name string) string {
	return fmt.Sprintf("Obrigada, %s!\n\n"+
		"Agora é só aguardar!\n\n"+
		"A Raquel vai analisar as informações e responder o mais breve para agendar seu horário.\n\n"+
		"Qualquer dúvida, é só me chamar novamente!\n\n"+
		"Enquanto isso, acesse nosso catálogo e conheça nosso trabalho.\n%s", name, PortfolioURL)
}
